package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	markers, err := ParseMarkers("21:00,09:00,13:00")
	require.NoError(t, err)
	r, err := NewRegistry(markers, 20*time.Second, time.UTC)
	require.NoError(t, err)
	return r
}

func TestParseMarker(t *testing.T) {
	m, err := ParseMarker("09:05")
	require.NoError(t, err)
	assert.Equal(t, Marker{Hour: 9, Minute: 5}, m)
	assert.Equal(t, "09:05", m.String())
	assert.Equal(t, "0905", m.Code())

	for _, bad := range []string{"", "9:00", "24:00", "12:60", "ab:cd", "1200"} {
		_, err := ParseMarker(bad)
		assert.ErrorIs(t, err, ErrInvalidConfig, bad)
	}
}

func TestParseKey(t *testing.T) {
	date, m, err := ParseKey("2024-06-01_0900")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01", date)
	assert.Equal(t, Marker{Hour: 9}, m)

	for _, bad := range []string{"2024-06-01", "2024-06-01_900", "2024-13-01_0900", "2024-06-01_2500", "x_0900"} {
		_, _, err := ParseKey(bad)
		assert.ErrorIs(t, err, ErrInvalidKey, bad)
	}
}

func TestNewRegistryValidation(t *testing.T) {
	_, err := NewRegistry(nil, time.Minute, time.UTC)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewRegistry([]Marker{{Hour: 9}}, 0, time.UTC)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewRegistry([]Marker{{Hour: 9}, {Hour: 9}}, time.Second, time.UTC)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	// 09:00 + 2m 与 09:01 重叠
	_, err = NewRegistry([]Marker{{Hour: 9}, {Hour: 9, Minute: 1}}, 2*time.Minute, time.UTC)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewRegistry([]Marker{{Hour: 23, Minute: 59}}, 2*time.Minute, time.UTC)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	r, err := NewRegistry([]Marker{{Hour: 9}, {Hour: 9, Minute: 1}}, time.Minute, nil)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, r.Location())
}

func TestMarkersSorted(t *testing.T) {
	r := newTestRegistry(t)
	assert.Equal(t, []Marker{{Hour: 9}, {Hour: 13}, {Hour: 21}}, r.Markers())
	assert.Equal(t, 20*time.Second, r.Window())
}

func TestCurrentOpenSlotBoundaries(t *testing.T) {
	r := newTestRegistry(t)
	openAt := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	_, ok := r.CurrentOpenSlot(openAt.Add(-time.Millisecond))
	assert.False(t, ok)

	s, ok := r.CurrentOpenSlot(openAt)
	require.True(t, ok)
	assert.Equal(t, "2024-06-01_0900", s.Key)
	assert.Equal(t, "2024-06-01", s.Date)
	assert.Equal(t, openAt, s.OpenAt)
	assert.Equal(t, openAt.Add(20*time.Second), s.CloseAt)

	s, ok = r.CurrentOpenSlot(openAt.Add(20*time.Second - time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, "2024-06-01_0900", s.Key)

	_, ok = r.CurrentOpenSlot(openAt.Add(20 * time.Second))
	assert.False(t, ok)
}

func TestCurrentOpenSlotUsesCanonicalZone(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	r, err := NewRegistry([]Marker{{Hour: 9}}, time.Minute, loc)
	require.NoError(t, err)

	// 01:00 UTC 即 09:00 UTC+8
	now := time.Date(2024, 6, 1, 1, 0, 30, 0, time.UTC)
	s, ok := r.CurrentOpenSlot(now)
	require.True(t, ok)
	assert.Equal(t, "2024-06-01_0900", s.Key)
	assert.True(t, s.OpenAt.Equal(time.Date(2024, 6, 1, 1, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2024-06-01", r.DateOf(now))
}

func TestNextSlot(t *testing.T) {
	r := newTestRegistry(t)

	m, at := r.NextSlot(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))
	assert.Equal(t, Marker{Hour: 9}, m)
	assert.Equal(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC), at)

	// 正好在时刻上时返回下一个
	m, at = r.NextSlot(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	assert.Equal(t, Marker{Hour: 13}, m)
	assert.Equal(t, time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC), at)

	m, at = r.NextSlot(time.Date(2024, 6, 1, 22, 0, 0, 0, time.UTC))
	assert.Equal(t, Marker{Hour: 9}, m)
	assert.Equal(t, time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC), at)
}

func TestSlotByKeyAndDate(t *testing.T) {
	r := newTestRegistry(t)

	s, err := r.SlotByKey("2024-06-01_1300")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC), s.OpenAt)
	assert.True(t, s.Contains(s.OpenAt))
	assert.False(t, s.Contains(s.CloseAt))

	_, err = r.SlotByKey("2024-06-01_1000")
	assert.ErrorIs(t, err, ErrUnknownMarker)

	_, err = r.SlotByKey("garbage")
	assert.ErrorIs(t, err, ErrInvalidKey)

	slots, err := r.SlotsForDate("2024-06-01")
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, "2024-06-01_0900", slots[0].Key)
	assert.Equal(t, "2024-06-01_1300", slots[1].Key)
	assert.Equal(t, "2024-06-01_2100", slots[2].Key)

	_, err = r.SlotsForDate("2024/06/01")
	assert.ErrorIs(t, err, ErrInvalidKey)
}
