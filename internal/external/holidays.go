package external

import (
	"time"

	"github.com/irfndi/celebrum-forecast/internal/models"
)

// Holiday types
const (
	HolidayNewYear    = "new_year"
	HolidayChristmas  = "christmas"
	HolidayDefender   = "defender_day"
	HolidayWomens     = "womens_day"
	HolidayLabour     = "labour_day"
	HolidayVictory    = "victory_day"
	HolidayRussia     = "russia_day"
	HolidayUnity      = "unity_day"
	HolidayPreHoliday = "pre_holiday"
)

type fixedHoliday struct {
	month  time.Month
	day    int
	name   string
	kind   string
	impact float64
}

var russianHolidays = []fixedHoliday{
	{time.January, 1, "New Year", HolidayNewYear, -0.6},
	{time.January, 2, "New Year Holidays", HolidayNewYear, -0.4},
	{time.January, 3, "New Year Holidays", HolidayNewYear, -0.3},
	{time.January, 4, "New Year Holidays", HolidayNewYear, -0.2},
	{time.January, 5, "New Year Holidays", HolidayNewYear, -0.2},
	{time.January, 6, "New Year Holidays", HolidayNewYear, -0.2},
	{time.January, 7, "Orthodox Christmas", HolidayChristmas, -0.3},
	{time.January, 8, "New Year Holidays", HolidayNewYear, -0.1},
	{time.February, 23, "Defender of the Fatherland Day", HolidayDefender, 0.2},
	{time.March, 8, "International Women's Day", HolidayWomens, 0.4},
	{time.May, 1, "Spring and Labour Day", HolidayLabour, -0.1},
	{time.May, 9, "Victory Day", HolidayVictory, -0.1},
	{time.June, 12, "Russia Day", HolidayRussia, -0.1},
	{time.November, 4, "Unity Day", HolidayUnity, -0.1},
	{time.December, 31, "New Year's Eve", HolidayPreHoliday, 0.5},
}

// HolidayCalendar resolves fixed-date public holidays
type HolidayCalendar struct {
	byDay map[[2]int]fixedHoliday
}

// NewRussianCalendar returns the federal holiday calendar of the Russian Federation
func NewRussianCalendar() *HolidayCalendar {
	c := &HolidayCalendar{byDay: make(map[[2]int]fixedHoliday, len(russianHolidays))}
	for _, h := range russianHolidays {
		c.byDay[[2]int{int(h.month), h.day}] = h
	}
	return c
}

// Holiday returns the holiday on the given date, if any
func (c *HolidayCalendar) Holiday(date time.Time) (models.Holiday, bool) {
	d := models.TruncateDay(date)
	h, ok := c.byDay[[2]int{int(d.Month()), d.Day()}]
	if !ok {
		return models.Holiday{}, false
	}
	return models.Holiday{Date: d, Name: h.name, Type: h.kind, Impact: h.impact}, true
}

// Range lists the holidays between from and to inclusive
func (c *HolidayCalendar) Range(from, to time.Time) []models.Holiday {
	var out []models.Holiday
	for d := models.TruncateDay(from); !d.After(to); d = d.AddDate(0, 0, 1) {
		if h, ok := c.Holiday(d); ok {
			out = append(out, h)
		}
	}
	return out
}
