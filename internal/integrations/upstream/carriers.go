package upstream

import "strings"

var carrierNames = map[string]string{
	"ups":         "UPS",
	"usps":        "USPS",
	"fedex":       "FedEx",
	"dhl":         "DHL",
	"dhlde":       "DHL Germany",
	"dpd":         "DPD",
	"gls":         "GLS",
	"tnt":         "TNT",
	"amzlus":      "Amazon Logistics",
	"amzluk":      "Amazon Logistics UK",
	"amazon":      "Amazon",
	"ontrac":      "OnTrac",
	"lasership":   "LaserShip",
	"royalmail":   "Royal Mail",
	"canpar":      "Canpar",
	"cpc":         "Canada Post",
	"auspost":     "Australia Post",
	"pflogistics": "Pitney Bowes",
	"hermes":      "Evri",
	"postnl":      "PostNL",
	"correos":     "Correos",
	"seur":        "SEUR",
	"mrw":         "MRW",
	"nacex":       "Nacex",
	"ctt":         "CTT",
	"laposte":     "La Poste",
	"colissimo":   "Colissimo",
	"chronopost":  "Chronopost",
	"bpost":       "bpost",
	"sfexpress":   "SF Express",
	"cainiao":     "Cainiao",
	"yunexpress":  "YunExpress",
	"aliexpress":  "AliExpress Standard Shipping",
}

// CarrierName maps an upstream carrier code to a display name.
// Unknown codes are returned as given.
func CarrierName(code string) string {
	if name, ok := carrierNames[strings.ToLower(strings.TrimSpace(code))]; ok {
		return name
	}
	return code
}
