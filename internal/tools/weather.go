package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/keshon/persona-bot/pkg/retrylimit"
)

const amapWeatherURL = "https://restapi.amap.com/v3/weather/weatherInfo"

var weatherWords = []string{"天气", "温度", "下雨", "晴天", "预报"}

const weatherFailed = "查询天气失败啦～ 稍后再试试吧～"

// Weather reports live weather from the AMap REST API.
type Weather struct {
	Key     string
	City    string
	BaseURL string

	client  *http.Client
	limiter *retrylimit.AdaptiveLimiter
}

func NewWeather(key, city string) *Weather {
	return &Weather{
		Key:     key,
		City:    city,
		BaseURL: amapWeatherURL,
		client:  newHTTPClient(0),
		limiter: retrylimit.NewAdaptiveLimiter(2, 1, 5, 1, 0.5),
	}
}

func (w *Weather) Name() string { return "weather" }

func (w *Weather) Handle(ctx context.Context, _ string, text string) (string, bool, error) {
	if !containsAny(text, weatherWords...) {
		return "", false, nil
	}
	if w.Key == "" {
		return "天气工具未启用～", true, nil
	}

	q := url.Values{}
	q.Set("key", w.Key)
	q.Set("city", w.City)
	q.Set("extensions", "base")
	body, err := httpGet(ctx, w.client, w.limiter, w.BaseURL+"?"+q.Encode())
	if err != nil {
		return weatherFailed, true, fmt.Errorf("weather request: %w", err)
	}

	var data struct {
		Status string `json:"status"`
		Info   string `json:"info"`
		Lives  []struct {
			City        string `json:"city"`
			Weather     string `json:"weather"`
			Temperature string `json:"temperature"`
			Humidity    string `json:"humidity"`
		} `json:"lives"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return weatherFailed, true, fmt.Errorf("weather decode: %w", err)
	}
	if data.Status != "1" || len(data.Lives) == 0 {
		return weatherFailed, true, fmt.Errorf("weather status %s: %s", data.Status, data.Info)
	}
	l := data.Lives[0]
	return fmt.Sprintf("🌤️ 当前%s天气：%s，温度%s℃，湿度%s%%，%s～", l.City, l.Weather, l.Temperature, l.Humidity, data.Info), true, nil
}
