package http

import (
	"time"

	"github.com/labstack/echo/v4"

	xutil "SabrLSM/pkg/util"
)

// QueryInt reads an int query param, falling back to def.
func QueryInt(c echo.Context, name string, def int) int {
	return xutil.ParseIntDefault(c.QueryParam(name), def)
}

// QueryTimeRange reads from/to query params. Missing bounds default to the
// last window ending now.
func QueryTimeRange(c echo.Context, window time.Duration, now time.Time) TimeRange {
	to := xutil.ParseTimeDefault(c.QueryParam("to"), now)
	from := xutil.ParseTimeDefault(c.QueryParam("from"), to.Add(-window))
	return TimeRange{From: from, To: to}
}
