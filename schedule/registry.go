package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// 日期格式
const DateLayout = "2006-01-02"

var (
	// ErrInvalidKey 时段标识格式错误
	ErrInvalidKey = errors.New("无效的时段标识")

	// ErrUnknownMarker 时段不在每日配置中
	ErrUnknownMarker = errors.New("未配置的时段")

	// ErrInvalidConfig 时段配置错误
	ErrInvalidConfig = errors.New("无效的时段配置")
)

// Marker 每日固定时刻，例如 09:00
type Marker struct {
	Hour   int
	Minute int
}

// ParseMarker 解析 "HH:MM" 格式的时刻
func ParseMarker(s string) (Marker, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return Marker{}, fmt.Errorf("%w: 时刻 %q 应为HH:MM", ErrInvalidConfig, s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return Marker{}, fmt.Errorf("%w: 小时 %q 超出范围", ErrInvalidConfig, parts[0])
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return Marker{}, fmt.Errorf("%w: 分钟 %q 超出范围", ErrInvalidConfig, parts[1])
	}
	return Marker{Hour: hour, Minute: minute}, nil
}

// ParseMarkers 解析逗号分隔的时刻列表
func ParseMarkers(s string) ([]Marker, error) {
	var markers []Marker
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		m, err := ParseMarker(part)
		if err != nil {
			return nil, err
		}
		markers = append(markers, m)
	}
	return markers, nil
}

// String 返回 "HH:MM"
func (m Marker) String() string {
	return fmt.Sprintf("%02d:%02d", m.Hour, m.Minute)
}

// Code 返回时段标识中使用的 "HHMM"
func (m Marker) Code() string {
	return fmt.Sprintf("%02d%02d", m.Hour, m.Minute)
}

func (m Marker) offset() time.Duration {
	return time.Duration(m.Hour)*time.Hour + time.Duration(m.Minute)*time.Minute
}

// Slot 某一天某个时刻的抢答窗口，窗口为半开区间 [OpenAt, CloseAt)
type Slot struct {
	Key     string    `json:"slot_key"`
	Date    string    `json:"date"`
	Marker  Marker    `json:"-"`
	OpenAt  time.Time `json:"open_at"`
	CloseAt time.Time `json:"close_at"`
}

// Contains 判断时间是否落在窗口内，关闭时刻本身视为已关闭
func (s Slot) Contains(now time.Time) bool {
	return !now.Before(s.OpenAt) && now.Before(s.CloseAt)
}

// FormatKey 生成时段标识，如 2024-06-01_0900
func FormatKey(date string, m Marker) string {
	return date + "_" + m.Code()
}

// ParseKey 解析时段标识
func ParseKey(key string) (string, Marker, error) {
	date, code, ok := strings.Cut(key, "_")
	if !ok || len(code) != 4 {
		return "", Marker{}, fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return "", Marker{}, fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	m, err := ParseMarker(code[:2] + ":" + code[2:])
	if err != nil {
		return "", Marker{}, fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	return date, m, nil
}

// Registry 每日时段表。纯函数：给定now结果完全确定，不持有任何可变状态
type Registry struct {
	markers []Marker
	window  time.Duration
	loc     *time.Location
}

// NewRegistry 创建时段表，时刻按时间排序，窗口不得重叠或跨越午夜
func NewRegistry(markers []Marker, window time.Duration, loc *time.Location) (*Registry, error) {
	if len(markers) == 0 {
		return nil, fmt.Errorf("%w: 至少需要一个时刻", ErrInvalidConfig)
	}
	if window <= 0 {
		return nil, fmt.Errorf("%w: 窗口时长必须大于0", ErrInvalidConfig)
	}
	if loc == nil {
		loc = time.UTC
	}

	sorted := make([]Marker, len(markers))
	copy(sorted, markers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].offset() < sorted[j].offset() })

	for i, m := range sorted {
		if i > 0 {
			prev := sorted[i-1]
			if m == prev {
				return nil, fmt.Errorf("%w: 重复的时刻 %s", ErrInvalidConfig, m)
			}
			if m.offset()-prev.offset() < window {
				return nil, fmt.Errorf("%w: 时刻 %s 与 %s 的窗口重叠", ErrInvalidConfig, prev, m)
			}
		}
	}
	if last := sorted[len(sorted)-1]; last.offset()+window > 24*time.Hour {
		return nil, fmt.Errorf("%w: 时刻 %s 的窗口跨越午夜", ErrInvalidConfig, last)
	}

	return &Registry{markers: sorted, window: window, loc: loc}, nil
}

// Markers 返回按时间排序的时刻列表
func (r *Registry) Markers() []Marker {
	out := make([]Marker, len(r.markers))
	copy(out, r.markers)
	return out
}

// Window 窗口时长
func (r *Registry) Window() time.Duration {
	return r.window
}

// Location 规范时区
func (r *Registry) Location() *time.Location {
	return r.loc
}

// DateOf 返回t在规范时区中的日期
func (r *Registry) DateOf(t time.Time) string {
	return t.In(r.loc).Format(DateLayout)
}

// SlotFor 计算某天某时刻的窗口
func (r *Registry) SlotFor(date string, m Marker) (Slot, error) {
	if !r.hasMarker(m) {
		return Slot{}, fmt.Errorf("%w: %s", ErrUnknownMarker, m)
	}
	day, err := time.ParseInLocation(DateLayout, date, r.loc)
	if err != nil {
		return Slot{}, fmt.Errorf("%w: 日期 %q", ErrInvalidKey, date)
	}
	return r.slotOn(day, m), nil
}

// SlotByKey 根据时段标识计算窗口
func (r *Registry) SlotByKey(key string) (Slot, error) {
	date, m, err := ParseKey(key)
	if err != nil {
		return Slot{}, err
	}
	return r.SlotFor(date, m)
}

// SlotsForDate 返回某天全部时段，按时间排序
func (r *Registry) SlotsForDate(date string) ([]Slot, error) {
	day, err := time.ParseInLocation(DateLayout, date, r.loc)
	if err != nil {
		return nil, fmt.Errorf("%w: 日期 %q", ErrInvalidKey, date)
	}
	slots := make([]Slot, 0, len(r.markers))
	for _, m := range r.markers {
		slots = append(slots, r.slotOn(day, m))
	}
	return slots, nil
}

// CurrentOpenSlot 返回窗口包含now的时段
func (r *Registry) CurrentOpenSlot(now time.Time) (Slot, bool) {
	day := r.midnight(now)
	for _, m := range r.markers {
		s := r.slotOn(day, m)
		if s.Contains(now) {
			return s, true
		}
	}
	return Slot{}, false
}

// NextSlot 返回严格晚于now的最近一个时刻及其开启时间
func (r *Registry) NextSlot(now time.Time) (Marker, time.Time) {
	day := r.midnight(now)
	for _, m := range r.markers {
		openAt := r.slotOn(day, m).OpenAt
		if openAt.After(now) {
			return m, openAt
		}
	}
	first := r.markers[0]
	return first, r.slotOn(day.AddDate(0, 0, 1), first).OpenAt
}

func (r *Registry) midnight(t time.Time) time.Time {
	local := t.In(r.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.loc)
}

func (r *Registry) slotOn(day time.Time, m Marker) Slot {
	openAt := time.Date(day.Year(), day.Month(), day.Day(), m.Hour, m.Minute, 0, 0, r.loc)
	date := day.Format(DateLayout)
	return Slot{
		Key:     FormatKey(date, m),
		Date:    date,
		Marker:  m,
		OpenAt:  openAt,
		CloseAt: openAt.Add(r.window),
	}
}

func (r *Registry) hasMarker(m Marker) bool {
	for _, existing := range r.markers {
		if existing == m {
			return true
		}
	}
	return false
}
