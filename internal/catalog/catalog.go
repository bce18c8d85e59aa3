// Package catalog holds the products the USSD menu sells and the downstream
// service ids used to fulfill them.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/punchamoorthee/ussdops/internal/domain"
)

//go:embed default.yaml
var defaultCatalog []byte

// ErrInvalid wraps every catalog validation failure.
var ErrInvalid = errors.New("invalid catalog")

// Lookup kinds for utility providers.
const (
	LookupMobile  = "mobile"
	LookupAccount = "account"
)

type Catalog struct {
	Brand            string            `yaml:"brand"`
	Currency         string            `yaml:"currency"`
	PayoutServiceID  string            `yaml:"payout_service_id"`
	Vouchers         []Voucher         `yaml:"vouchers"`
	Networks         []Network         `yaml:"networks"`
	TVProviders      []Provider        `yaml:"tv_providers"`
	UtilityProviders []UtilityProvider `yaml:"utility_providers"`
}

type Voucher struct {
	Code           string `yaml:"code"`
	Name           string `yaml:"name"`
	UnitPriceText  string `yaml:"unit_price"`
	CommissionText string `yaml:"commission_rate"`

	UnitPrice      int64           `yaml:"-"`
	CommissionRate decimal.Decimal `yaml:"-"`
}

type Network struct {
	Code             string     `yaml:"code"`
	Name             string     `yaml:"name"`
	AirtimeServiceID string     `yaml:"airtime_service_id"`
	BundleServiceID  string     `yaml:"bundle_service_id"`
	Categories       []Category `yaml:"categories"`
}

type Category struct {
	Name    string   `yaml:"name"`
	Bundles []Bundle `yaml:"bundles"`
}

type Bundle struct {
	Value     string `yaml:"value"`
	Name      string `yaml:"name"`
	PriceText string `yaml:"price"`
	Price     int64  `yaml:"-"`
}

type Provider struct {
	Code      string `yaml:"code"`
	Name      string `yaml:"name"`
	ServiceID string `yaml:"service_id"`
}

type UtilityProvider struct {
	Code          string `yaml:"code"`
	Name          string `yaml:"name"`
	ServiceID     string `yaml:"service_id"`
	Lookup        string `yaml:"lookup"`
	RequiresEmail bool   `yaml:"requires_email"`
}

// Load reads the catalog at path, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading catalog: %w", err)
		}
		data = b
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.normalize(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) normalize() error {
	for i := range c.Vouchers {
		v := &c.Vouchers[i]
		price, err := domain.ParseAmount(v.UnitPriceText)
		if err != nil {
			return fmt.Errorf("%w: voucher %s price: %v", ErrInvalid, v.Code, err)
		}
		v.UnitPrice = price
		if v.CommissionText != "" {
			rate, err := decimal.NewFromString(v.CommissionText)
			if err != nil {
				return fmt.Errorf("%w: voucher %s commission rate: %v", ErrInvalid, v.Code, err)
			}
			v.CommissionRate = rate
		}
	}
	for i := range c.Networks {
		for j := range c.Networks[i].Categories {
			bundles := c.Networks[i].Categories[j].Bundles
			for k := range bundles {
				price, err := domain.ParseAmount(bundles[k].PriceText)
				if err != nil {
					return fmt.Errorf("%w: bundle %s price: %v", ErrInvalid, bundles[k].Value, err)
				}
				bundles[k].Price = price
			}
		}
	}
	return nil
}

// Validate checks that every product can be priced and fulfilled. A failure
// here is a configuration error and must stop the process at startup.
func (c *Catalog) Validate() error {
	if c.Currency == "" {
		return fmt.Errorf("%w: currency is required", ErrInvalid)
	}
	if c.PayoutServiceID == "" {
		return fmt.Errorf("%w: payout_service_id is required", ErrInvalid)
	}
	if len(c.Vouchers) == 0 && len(c.Networks) == 0 && len(c.TVProviders) == 0 && len(c.UtilityProviders) == 0 {
		return fmt.Errorf("%w: no products", ErrInvalid)
	}
	for _, v := range c.Vouchers {
		if v.Code == "" || v.Name == "" || v.UnitPrice <= 0 {
			return fmt.Errorf("%w: voucher %q needs code, name and a positive price", ErrInvalid, v.Code)
		}
	}
	for _, n := range c.Networks {
		if n.Code == "" || n.AirtimeServiceID == "" || n.BundleServiceID == "" {
			return fmt.Errorf("%w: network %q missing service id", ErrInvalid, n.Code)
		}
		for _, cat := range n.Categories {
			for _, b := range cat.Bundles {
				if b.Value == "" || b.Price <= 0 {
					return fmt.Errorf("%w: network %s bundle %q needs a value and a positive price", ErrInvalid, n.Code, b.Value)
				}
			}
		}
	}
	for _, p := range c.TVProviders {
		if p.Code == "" || p.ServiceID == "" {
			return fmt.Errorf("%w: tv provider %q missing service id", ErrInvalid, p.Code)
		}
	}
	for _, p := range c.UtilityProviders {
		if p.Code == "" || p.ServiceID == "" {
			return fmt.Errorf("%w: utility provider %q missing service id", ErrInvalid, p.Code)
		}
		if p.Lookup != LookupMobile && p.Lookup != LookupAccount {
			return fmt.Errorf("%w: utility provider %s lookup must be %s or %s", ErrInvalid, p.Code, LookupMobile, LookupAccount)
		}
	}
	return nil
}

func (c *Catalog) Voucher(code string) (Voucher, bool) {
	for _, v := range c.Vouchers {
		if v.Code == code {
			return v, true
		}
	}
	return Voucher{}, false
}

func (c *Catalog) Network(code string) (Network, bool) {
	for _, n := range c.Networks {
		if n.Code == code {
			return n, true
		}
	}
	return Network{}, false
}

func (c *Catalog) TVProvider(code string) (Provider, bool) {
	for _, p := range c.TVProviders {
		if p.Code == code {
			return p, true
		}
	}
	return Provider{}, false
}

func (c *Catalog) UtilityProvider(code string) (UtilityProvider, bool) {
	for _, p := range c.UtilityProviders {
		if p.Code == code {
			return p, true
		}
	}
	return UtilityProvider{}, false
}

// Category returns the named bundle category of a network.
func (n Network) Category(name string) (Category, bool) {
	for _, c := range n.Categories {
		if c.Name == name {
			return c, true
		}
	}
	return Category{}, false
}

// ServiceID maps a sellable product to the downstream endpoint that fulfills it.
func (c *Catalog) ServiceID(product domain.Product, network, provider string) (string, error) {
	switch product {
	case domain.ProductAirtime:
		if n, ok := c.Network(network); ok {
			return n.AirtimeServiceID, nil
		}
	case domain.ProductBundle:
		if n, ok := c.Network(network); ok {
			return n.BundleServiceID, nil
		}
	case domain.ProductTVBill:
		if p, ok := c.TVProvider(provider); ok {
			return p.ServiceID, nil
		}
	case domain.ProductUtility:
		if p, ok := c.UtilityProvider(provider); ok {
			return p.ServiceID, nil
		}
	case domain.ProductWithdrawalDeduction:
		return c.PayoutServiceID, nil
	}
	return "", fmt.Errorf("no service id for %s network=%q provider=%q", product, network, provider)
}

// CommissionRate returns the operator margin on a voucher type.
func (c *Catalog) CommissionRate(voucherCode string) decimal.Decimal {
	if v, ok := c.Voucher(voucherCode); ok {
		return v.CommissionRate
	}
	return decimal.Zero
}
