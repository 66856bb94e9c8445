package utils

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// Count formats n with thousands separators for log lines, e.g. 1,000,000.
func Count[T ~int | ~int64](n T) string {
	return printer.Sprintf("%d", n)
}
