package display

import (
	"fmt"
	"strings"
)

// Display precision for each field
const (
	priceDecimals   = 4
	changeDecimals  = 2
	balanceDecimals = 2
	valueDecimals   = 2
)

// Volume suffix thresholds
const (
	volumeMillions  = 1_000_000
	volumeThousands = 1_000
)

// FormatPrice renders a USD price with grouped thousands
func FormatPrice(price float64) string {
	return "$ " + groupThousands(fmt.Sprintf("%.*f", priceDecimals, price))
}

// FormatChange renders the 24h change with a direction arrow
func FormatChange(change, percent float64) string {
	arrow := ""
	switch {
	case change > 0:
		arrow = "↑ "
	case change < 0:
		arrow = "↓ "
	}
	return fmt.Sprintf("%s%+.*f (%+.*f%%)", arrow, priceDecimals, change, changeDecimals, percent)
}

// FormatVolume renders a 24h volume with a K/M suffix
func FormatVolume(volume float64) string {
	switch {
	case volume >= volumeMillions:
		return fmt.Sprintf("%.2fM XRP", volume/volumeMillions)
	case volume >= volumeThousands:
		return fmt.Sprintf("%.1fK XRP", volume/volumeThousands)
	default:
		return fmt.Sprintf("%.0f XRP", volume)
	}
}

// FormatBalance renders an XRP balance with grouped thousands
func FormatBalance(balanceXRP float64) string {
	return groupThousands(fmt.Sprintf("%.*f", balanceDecimals, balanceXRP)) + " XRP"
}

// FormatPortfolioValue renders a USD portfolio value with grouped thousands
func FormatPortfolioValue(valueUSD float64) string {
	return "$" + groupThousands(fmt.Sprintf("%.*f", valueDecimals, valueUSD)) + " USD"
}

// groupThousands inserts commas into the integer part of a formatted number
func groupThousands(s string) string {
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	intPart := s
	fracPart := ""
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		intPart, fracPart = s[:dot], s[dot:]
	}

	if len(intPart) > 3 {
		var b strings.Builder
		lead := len(intPart) % 3
		if lead > 0 {
			b.WriteString(intPart[:lead])
		}
		for i := lead; i < len(intPart); i += 3 {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(intPart[i : i+3])
		}
		intPart = b.String()
	}

	out := intPart + fracPart
	if neg {
		out = "-" + out
	}
	return out
}
