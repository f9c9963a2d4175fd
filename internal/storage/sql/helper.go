package sql

import (
	"fmt"
	"strings"
)

func getUnsupportedDriverError(driver string) error {
	return fmt.Errorf("unsupported driver: %s", driver)
}

func schemasForDriver(driver string) (string, error) {
	switch driver {
	case SQLITE_DRIVER:
		return SQLITE_SCHEMA, nil
	case POSTGRES_DRIVER:
		return POSTGRES_SCHEMA, nil
	default:
		return "", getUnsupportedDriverError(driver)
	}
}

// rebind converts '?' placeholders to the driver's syntax. Statements in
// this package are written with '?' and rebound for postgres.
func rebind(driver, query string) string {
	if driver != POSTGRES_DRIVER {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
