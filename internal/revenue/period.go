package revenue

import (
	"fmt"
	"time"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
)

// ParsePeriod resolves a period name relative to now in loc. Accepted names:
// "" or "month" (current month), "quarter", "year", "YYYY-MM", "YYYY-Qn" and "YYYY".
func ParsePeriod(name string, now time.Time, loc *time.Location) (models.Period, error) {
	now = now.In(loc)
	switch name {
	case "", "month":
		return monthPeriod(now.Year(), now.Month(), loc), nil
	case "quarter":
		return quarterPeriod(now.Year(), (int(now.Month())-1)/3+1, loc), nil
	case "year":
		return yearPeriod(now.Year(), loc), nil
	}
	if t, err := time.ParseInLocation("2006-01", name, loc); err == nil {
		return monthPeriod(t.Year(), t.Month(), loc), nil
	}
	var year, q int
	if n, err := fmt.Sscanf(name, "%4d-Q%1d", &year, &q); err == nil && n == 2 && q >= 1 && q <= 4 {
		return quarterPeriod(year, q, loc), nil
	}
	if t, err := time.ParseInLocation("2006", name, loc); err == nil {
		return yearPeriod(t.Year(), loc), nil
	}
	return models.Period{}, apperr.Validation("unknown period %q", name)
}

// Previous returns the period of the same length immediately before p.
func Previous(p models.Period) models.Period {
	months := (p.End.Year()-p.Start.Year())*12 + int(p.End.Month()) - int(p.Start.Month())
	start := p.Start.AddDate(0, -months, 0)
	loc := p.Start.Location()
	switch months {
	case 12:
		return yearPeriod(start.Year(), loc)
	case 3:
		return quarterPeriod(start.Year(), (int(start.Month())-1)/3+1, loc)
	case 1:
		return monthPeriod(start.Year(), start.Month(), loc)
	}
	return models.Period{Name: start.Format("2006-01-02"), Start: start, End: p.Start}
}

func monthPeriod(year int, month time.Month, loc *time.Location) models.Period {
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return models.Period{Name: start.Format("2006-01"), Start: start, End: start.AddDate(0, 1, 0)}
}

func quarterPeriod(year, q int, loc *time.Location) models.Period {
	start := time.Date(year, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, loc)
	return models.Period{Name: fmt.Sprintf("%d-Q%d", year, q), Start: start, End: start.AddDate(0, 3, 0)}
}

func yearPeriod(year int, loc *time.Location) models.Period {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
	return models.Period{Name: start.Format("2006"), Start: start, End: start.AddDate(1, 0, 0)}
}
