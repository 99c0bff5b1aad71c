package storage

// Logger receives one formatted line per notable event: a table file
// growing, and compact.Archive's progress lines. There is no logging framework in the
// dependency pack this core draws from, so rather than import one wholesale
// for a handful of log lines, Manager takes this minimal sink — defaulting
// to silence — which callers can wire to whatever framework their own
// application uses.
type Logger func(format string, args ...any)

func noopLogger(string, ...any) {}
