// Package money formats minor-unit amounts for display, choosing locale and
// currency from the store's region the way the storefront does.
package money

import (
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// AmountPlaceholder is substituted by the formatted number in a money format.
const AmountPlaceholder = "{{amount}}"

// Defaults used when the region signal is missing or unknown.
var (
	DefaultLocale   = language.AmericanEnglish
	DefaultCurrency = currency.USD
)

// moneyFormats are shop-style money formats for the currencies the storefront
// sells in. Unknown currencies fall back to "{{amount}} ISO".
var moneyFormats = map[string]string{
	"USD": "${{amount}}",
	"CAD": "${{amount}}",
	"AUD": "${{amount}}",
	"EUR": "€{{amount}}",
	"GBP": "£{{amount}}",
	"PLN": "{{amount}} zł",
	"CZK": "{{amount}} Kč",
	"SEK": "{{amount}} kr",
	"JPY": "¥{{amount}}",
}

// Formatter renders amounts for one locale and currency.
type Formatter struct {
	locale  language.Tag
	unit    currency.Unit
	format  string
	printer *message.Printer
}

// Options select the formatter. Every field is optional.
type Options struct {
	// Country is the store region signal, e.g. "PL".
	Country string
	// Locale overrides the locale derived from Country, e.g. "pl-PL".
	Locale string
	// Currency overrides the currency derived from Country, e.g. "EUR".
	Currency string
	// MoneyFormat overrides the display pattern; must contain {{amount}}.
	MoneyFormat string
}

// New builds a Formatter. Unknown or missing inputs fall back to en-US/USD.
func New(opts Options) *Formatter {
	locale, unit := DefaultLocale, DefaultCurrency

	if region, err := language.ParseRegion(strings.TrimSpace(opts.Country)); err == nil && opts.Country != "" {
		if tag, ok := localeForRegion(region); ok {
			locale = tag
		}
		if u, ok := currency.FromRegion(region); ok {
			unit = u
		}
	}
	if opts.Locale != "" {
		if tag, err := language.Parse(opts.Locale); err == nil {
			locale = tag
		}
	}
	if opts.Currency != "" {
		if u, err := currency.ParseISO(opts.Currency); err == nil {
			unit = u
		}
	}

	format := opts.MoneyFormat
	if !strings.Contains(format, AmountPlaceholder) {
		format = defaultFormat(unit)
	}

	return &Formatter{
		locale:  locale,
		unit:    unit,
		format:  format,
		printer: message.NewPrinter(locale),
	}
}

// WithCurrency returns a copy of f that formats in the given ISO currency,
// keeping the locale. Invalid codes return f unchanged.
func (f *Formatter) WithCurrency(code string) *Formatter {
	if code == "" {
		return f
	}
	u, err := currency.ParseISO(code)
	if err != nil || u == f.unit {
		return f
	}
	return &Formatter{
		locale:  f.locale,
		unit:    u,
		format:  defaultFormat(u),
		printer: f.printer,
	}
}

// Locale returns the formatter's locale.
func (f *Formatter) Locale() language.Tag { return f.locale }

// Currency returns the ISO code of the formatter's currency.
func (f *Formatter) Currency() string { return f.unit.String() }

// Format renders an amount given in minor units (cents, grosze).
func (f *Formatter) Format(minor int64) string {
	scale, _ := currency.Standard.Rounding(f.unit)
	value := float64(minor) / 100
	amount := f.printer.Sprint(number.Decimal(value, number.Scale(scale)))
	return strings.Replace(f.format, AmountPlaceholder, amount, 1)
}

// localeForRegion maps a region to its most likely language, e.g. PL -> pl-PL.
func localeForRegion(region language.Region) (language.Tag, bool) {
	und, err := language.Compose(language.Und, region)
	if err != nil {
		return language.Und, false
	}
	base, conf := und.Base()
	if conf == language.No {
		return language.Und, false
	}
	tag, err := language.Compose(base, region)
	if err != nil {
		return language.Und, false
	}
	return tag, true
}

func defaultFormat(unit currency.Unit) string {
	if f, ok := moneyFormats[unit.String()]; ok {
		return f
	}
	return AmountPlaceholder + " " + unit.String()
}
