package backend

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Route struct {
	Method string `yaml:"method"`
	Path   string `yaml:"path"`
}

// Routes 後端購物車相關端點，可由 yaml 覆寫
type Routes struct {
	GetCart         Route `yaml:"get_cart"`
	AddItem         Route `yaml:"add_item"`
	UpdateQuantity  Route `yaml:"update_quantity"`
	RemoveItem      Route `yaml:"remove_item"`
	RemoveCart      Route `yaml:"remove_cart"`
	ApplyPromo      Route `yaml:"apply_promo"`
	RemovePromo     Route `yaml:"remove_promo"`
	WalletBalance   Route `yaml:"wallet_balance"`
	InitiatePayment Route `yaml:"initiate_payment"`
}

func DefaultRoutes() Routes {
	return Routes{
		GetCart:         Route{Method: http.MethodGet, Path: "/cart/items"},
		AddItem:         Route{Method: http.MethodPost, Path: "/cart/items"},
		UpdateQuantity:  Route{Method: http.MethodPut, Path: "/cart/items/{itemId}"},
		RemoveItem:      Route{Method: http.MethodDelete, Path: "/cart/items/{itemId}"},
		RemoveCart:      Route{Method: http.MethodDelete, Path: "/cart"},
		ApplyPromo:      Route{Method: http.MethodPost, Path: "/cart/promo"},
		RemovePromo:     Route{Method: http.MethodDelete, Path: "/cart/promo"},
		WalletBalance:   Route{Method: http.MethodGet, Path: "/wallet/balance"},
		InitiatePayment: Route{Method: http.MethodPost, Path: "/payments/initiate"},
	}
}

type routeFile struct {
	Routes Routes `yaml:"routes"`
}

// LoadRoutes 讀取 yaml，未設定的端點沿用預設值
func LoadRoutes(path string) (Routes, error) {
	routes := DefaultRoutes()
	if path == "" {
		return routes, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return routes, fmt.Errorf("failed to read routes file: %w", err)
	}
	return ParseRoutes(b)
}

func ParseRoutes(b []byte) (Routes, error) {
	var rf routeFile
	if err := yaml.Unmarshal(b, &rf); err != nil {
		return DefaultRoutes(), fmt.Errorf("failed to parse routes file: %w", err)
	}
	return mergeRoutes(DefaultRoutes(), rf.Routes), nil
}

func mergeRoutes(base, override Routes) Routes {
	pick := func(b, o Route) Route {
		if o.Method != "" {
			b.Method = strings.ToUpper(o.Method)
		}
		if o.Path != "" {
			b.Path = o.Path
		}
		return b
	}
	return Routes{
		GetCart:         pick(base.GetCart, override.GetCart),
		AddItem:         pick(base.AddItem, override.AddItem),
		UpdateQuantity:  pick(base.UpdateQuantity, override.UpdateQuantity),
		RemoveItem:      pick(base.RemoveItem, override.RemoveItem),
		RemoveCart:      pick(base.RemoveCart, override.RemoveCart),
		ApplyPromo:      pick(base.ApplyPromo, override.ApplyPromo),
		RemovePromo:     pick(base.RemovePromo, override.RemovePromo),
		WalletBalance:   pick(base.WalletBalance, override.WalletBalance),
		InitiatePayment: pick(base.InitiatePayment, override.InitiatePayment),
	}
}

// expand 代入 {itemId} 等路徑參數
func (r Route) expand(params map[string]string) string {
	p := r.Path
	for k, v := range params {
		p = strings.ReplaceAll(p, "{"+k+"}", v)
	}
	return p
}
