package plans

// CoinPackage is a one-off purchase that credits coins instead of changing
// the plan. Checkout sessions for coins carry a correlation token of the form
// "{userId}_coins_{packageId}".
type CoinPackage struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Coins    int64   `json:"coins"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
}

var coinPackages = map[string]CoinPackage{
	"starter":   {ID: "starter", Name: "Starter", Coins: 100, Price: 0.99, Currency: "EUR"},
	"popular":   {ID: "popular", Name: "Popular", Coins: 500, Price: 3.99, Currency: "EUR"},
	"bestValue": {ID: "bestValue", Name: "Best Value", Coins: 1200, Price: 6.99, Currency: "EUR"},
	"mega":      {ID: "mega", Name: "Mega", Coins: 2500, Price: 12.99, Currency: "EUR"},
}

// CoinPackageByID looks up a coin package by its id.
func CoinPackageByID(id string) (CoinPackage, bool) {
	pkg, ok := coinPackages[id]
	return pkg, ok
}
