// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"
)

// ISO8601 带毫秒的时间格式
const ISO8601 = "2006-01-02T15:04:05.000Z07:00"

const formattedLayout = "2006-01-02 15:04:05 MST"

// TimeValue 时间服务的统一返回结构
type TimeValue struct {
	CurrentTime string `json:"current_time"`
	Timezone    string `json:"timezone"`
	Timestamp   int64  `json:"timestamp"`
	Formatted   string `json:"formatted,omitempty"`
}

// rawTime 兼容 snake_case 与 camelCase 两种字段命名
type rawTime struct {
	CurrentTime        string      `json:"current_time"`
	CurrentTimeCamel   string      `json:"currentTime"`
	Timezone           string      `json:"timezone"`
	TimeZone           string      `json:"time_zone"`
	TimeZoneCamel      string      `json:"timeZone"`
	Timestamp          json.Number `json:"timestamp"`
	Formatted          string      `json:"formatted"`
	FormattedTime      string      `json:"formatted_time"`
	FormattedTimeCamel string      `json:"formattedTime"`
}

// NormalizeTime 解析下游时间响应并转换为 TimeValue；缺少时区时使用 defaultTZ
func NormalizeTime(data []byte, defaultTZ string) (TimeValue, error) {
	var raw rawTime
	if err := json.Unmarshal(data, &raw); err != nil {
		return TimeValue{}, fmt.Errorf("decode time response: %w", err)
	}

	tz := firstNonEmpty(raw.Timezone, raw.TimeZone, raw.TimeZoneCamel, defaultTZ, "UTC")
	out := TimeValue{
		Timezone:  tz,
		Formatted: firstNonEmpty(raw.Formatted, raw.FormattedTime, raw.FormattedTimeCamel),
	}

	iso := firstNonEmpty(raw.CurrentTime, raw.CurrentTimeCamel)
	var ts int64
	hasTS := false
	if raw.Timestamp != "" {
		if n, err := raw.Timestamp.Int64(); err == nil {
			ts, hasTS = n, true
		} else if f, err := raw.Timestamp.Float64(); err == nil {
			ts, hasTS = int64(f), true
		}
		// 毫秒时间戳
		if ts > 1e11 {
			ts /= 1000
		}
	}

	switch {
	case iso != "":
		t, err := parseInstant(iso)
		if err != nil {
			return TimeValue{}, err
		}
		out.CurrentTime = t.Format(ISO8601)
		if hasTS {
			out.Timestamp = ts
		} else {
			out.Timestamp = t.Unix()
		}
	case hasTS:
		out.Timestamp = ts
		out.CurrentTime = time.Unix(ts, 0).In(loadLocation(tz)).Format(ISO8601)
	default:
		return TimeValue{}, errors.New("time response has neither current_time nor timestamp")
	}
	return out, nil
}

// LocalTime 本地时钟生成的时间值，用于降级
func LocalTime(now time.Time, tz string) TimeValue {
	loc, err := time.LoadLocation(tz)
	if tz == "" || err != nil {
		loc, tz = time.UTC, "UTC"
	}
	t := now.In(loc)
	return TimeValue{
		CurrentTime: t.Format(ISO8601),
		Timezone:    tz,
		Timestamp:   t.Unix(),
		Formatted:   t.Format(formattedLayout),
	}
}

func loadLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

func parseInstant(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format %q", s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
