package httpapi

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/gridwatch/pjm-sync/internal/pjm"
)

var validate = validator.New()

// RegisterRoutes wires the read-only query handlers into the Fiber app.
// The handlers treat bucket status as metadata attached to the response;
// they never filter values by it.
func RegisterRoutes(app *fiber.App, store pjm.QueryStore) {
	v1 := app.Group("/api/v1")

	v1.Get("/lmp/hourly", func(c *fiber.Ctx) error {
		var req rangeQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		rows, err := store.HourlyRange(c.Context(), req.From, req.To, req.PnodeIDs)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to query hourly prices")
		}
		statuses, err := store.StatusRange(c.Context(), req.From, req.To)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to query bucket statuses")
		}

		return c.JSON(fiber.Map{
			"from":     req.From,
			"to":       req.To,
			"rows":     rows,
			"statuses": statuses,
		})
	})

	v1.Get("/lmp/status", func(c *fiber.Ctx) error {
		dateStr := c.Query("date")
		if dateStr == "" {
			return fiber.NewError(fiber.StatusBadRequest, "date query parameter is required")
		}
		day, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid date; use YYYY-MM-DD")
		}

		start := pjm.DayFloor(day)
		states, err := store.StatusRange(c.Context(), start, start.Add(23*time.Hour))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to query bucket statuses")
		}

		return c.JSON(fiber.Map{
			"date":     dateStr,
			"statuses": states,
		})
	})

	v1.Get("/constraints", func(c *fiber.Ctx) error {
		var req rangeQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		events, err := store.ConstraintsRange(c.Context(), req.From, req.To)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to query constraints")
		}

		return c.JSON(fiber.Map{
			"from":   req.From,
			"to":     req.To,
			"events": events,
		})
	})
}

// rangeQuery holds a validated [from, to] window plus an optional pnode
// filter.
type rangeQuery struct {
	From     time.Time `validate:"required"`
	To       time.Time `validate:"required,gtefield=From"`
	PnodeIDs []int64
}

func (q *rangeQuery) bind(c *fiber.Ctx) error {
	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}
	q.From = from
	q.To = to

	if raw := c.Query("pnode_id"); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
			if err != nil {
				return errors.New("invalid pnode_id; use a comma-separated list of ids")
			}
			q.PnodeIDs = append(q.PnodeIDs, id)
		}
	}
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
