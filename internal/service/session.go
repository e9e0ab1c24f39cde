package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/punchamoorthee/marketops/internal/cart"
	"github.com/punchamoorthee/marketops/internal/catalog"
	"github.com/punchamoorthee/marketops/internal/domain"
	"github.com/punchamoorthee/marketops/internal/economy"
	"github.com/punchamoorthee/marketops/internal/models"
	"github.com/punchamoorthee/marketops/internal/pricing"
	"github.com/punchamoorthee/marketops/internal/sales"
)

var (
	ErrUnknownItem          = errors.New("item not in active market")
	ErrUnknownCategory      = errors.New("category not in active market")
	ErrEmptyCart            = errors.New("cart is empty")
	ErrHostRejected         = errors.New("host rejected the request")
	ErrPurchaseInProgress   = errors.New("a purchase is already in flight")
	ErrWithdrawInProgress   = errors.New("a withdrawal is already in flight")
	ErrTransferInProgress   = errors.New("a transfer is already in flight")
	ErrInvalidOwner         = errors.New("new owner id and name are required")
	ErrUnhandledInboundKind = errors.New("unhandled inbound message")
)

// HostBridge sends typed requests to the host. Without a host Send succeeds locally.
type HostBridge interface {
	Present() bool
	Send(ctx context.Context, action, key string, payload any) (models.HostResponse, error)
}

// Notifier receives user-facing notifications.
type Notifier interface {
	Success(msg string)
	Error(msg string)
	SuccessAfter(delay time.Duration, msg string)
	Sprintf(format string, args ...any) string
}

// Options wires a Session to its collaborators.
type Options struct {
	Bridge            HostBridge
	Notifier          Notifier
	Catalog           *catalog.Registry
	Logger            *slog.Logger
	Rand              *rand.Rand
	Now               func() time.Time
	NewKey            func() string
	Balance           domain.PlayerBalance
	PointsNoticeDelay time.Duration
}

// Session is the single owner of the cart, the account, the sales ledger and the active market.
//
// Mutations are serialized by mu. The host call of purchase, withdraw and transfer happens
// outside mu; one semaphore per action class keeps at most one of each in flight.
type Session struct {
	mu sync.Mutex

	bridge  HostBridge
	notes   Notifier
	catalog *catalog.Registry
	log     *slog.Logger
	rng     *rand.Rand
	newKey  func() string
	delay   time.Duration

	config           domain.MarketConfig
	resolver         pricing.Resolver
	discountItemID   string
	selectedCategory string
	paymentMethod    domain.PaymentMethod
	open             bool
	state            PurchaseState

	cart    *cart.Ledger
	account *economy.Account
	sales   *sales.Ledger

	purchaseSlot *semaphore.Weighted
	withdrawSlot *semaphore.Weighted
	transferSlot *semaphore.Weighted
	idem         *idempotencyCache
}

// NewSession builds a session from opts. Nil clocks, keys and randomness get real defaults.
func NewSession(opts Options) (*Session, error) {
	if opts.Bridge == nil {
		return nil, errors.New("session requires a host bridge")
	}
	if opts.Notifier == nil {
		return nil, errors.New("session requires a notifier")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.NewKey == nil {
		opts.NewKey = func() string { return uuid.NewString() }
	}

	acct, err := economy.NewAccount(opts.Balance)
	if err != nil {
		return nil, err
	}

	s := &Session{
		bridge:        opts.Bridge,
		notes:         opts.Notifier,
		catalog:       opts.Catalog,
		log:           opts.Logger,
		rng:           opts.Rand,
		newKey:        opts.NewKey,
		delay:         opts.PointsNoticeDelay,
		paymentMethod: domain.PaymentCash,
		resolver:      pricing.NewResolver(domain.MarketConfig{}, ""),
		cart:          cart.New(),
		account:       acct,
		sales:         sales.New(opts.Now),
		purchaseSlot:  semaphore.NewWeighted(1),
		withdrawSlot:  semaphore.NewWeighted(1),
		transferSlot:  semaphore.NewWeighted(1),
		idem:          newIdempotencyCache(256),
	}
	return s, nil
}

// DemoMode reports whether the session runs without a host.
func (s *Session) DemoMode() bool {
	return !s.bridge.Present()
}

// Activate replaces the active market, resets the selected category and re-rolls the daily
// discount. The cart and the sales ledger are kept.
func (s *Session) Activate(cfg domain.MarketConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activateLocked(cfg)
	return nil
}

func (s *Session) activateLocked(cfg domain.MarketConfig) {
	s.config = cfg
	s.selectedCategory = cfg.DefaultCategory()
	s.discountItemID = pricing.RollDiscount(s.rng, cfg.Items)
	s.resolver = pricing.NewResolver(cfg, s.discountItemID)
	s.log.Info("market activated",
		"market_id", cfg.ID, "items", len(cfg.Items), "daily_discount", s.discountItemID)
}

// SwitchMarket activates a market from the registry and shows the storefront.
func (s *Session) SwitchMarket(marketID string) error {
	if s.catalog == nil {
		return fmt.Errorf("%w: %q", catalog.ErrMarketNotFound, marketID)
	}
	cfg, err := s.catalog.Get(marketID)
	if err != nil {
		return err
	}
	if err := s.Activate(cfg); err != nil {
		return err
	}
	s.mu.Lock()
	s.open = true
	s.mu.Unlock()
	return nil
}

// AvailableMarkets lists the registry markets.
func (s *Session) AvailableMarkets() []catalog.Summary {
	if s.catalog == nil {
		return []catalog.Summary{}
	}
	return s.catalog.List()
}

// TransferOwnership overwrites the owner of the active market. Confirmation is the caller's concern.
func (s *Session) TransferOwnership(newOwnerID, newOwnerName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.OwnerID = newOwnerID
	s.config.OwnerName = newOwnerName
}

// AddToCart adds quantity units of an item of the active market. Non-positive quantities are ignored.
// Going past cart.MaxQuantity for one item fails with cart.ErrQuantityLimit.
func (s *Session) AddToCart(itemID string, quantity int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.config.Item(itemID); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownItem, itemID)
	}
	err := s.cart.AddItem(itemID, quantity)
	if errors.Is(err, cart.ErrInvalidQuantity) {
		s.log.Debug("cart add ignored", "item_id", itemID, "quantity", quantity)
		return nil
	}
	return err
}

func (s *Session) RemoveFromCart(itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart.RemoveItem(itemID)
}

// UpdateCartQuantity overwrites an existing cart entry. Zero or less removes it.
func (s *Session) UpdateCartQuantity(itemID string, quantity int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.UpdateQuantity(itemID, quantity)
}

func (s *Session) ClearCart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart.Clear()
}

// SelectCategory changes the browsed category.
func (s *Session) SelectCategory(categoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.config.HasCategory(categoryID) {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, categoryID)
	}
	s.selectedCategory = categoryID
	return nil
}

// SetPaymentMethod selects cash or bank for the next purchase.
func (s *Session) SetPaymentMethod(m domain.PaymentMethod) error {
	if !m.Valid() {
		return fmt.Errorf("%w: %q", economy.ErrInvalidPaymentMethod, m)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paymentMethod = m
	return nil
}

// ItemView is a catalog item with its effective price.
type ItemView struct {
	domain.MarketItem
	EffectivePrice int64 `json:"effectivePrice"`
	HasDiscount    bool  `json:"hasDiscount"`
}

// FilteredItems returns the items of the selected category, or, when query is not blank, every
// item whose name or description contains it (case-insensitive).
func (s *Session) FilteredItems(query string) []ItemView {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]ItemView, 0)
	for _, it := range s.config.Items {
		if q != "" {
			if !strings.Contains(strings.ToLower(it.Name), q) &&
				!strings.Contains(strings.ToLower(it.Description), q) {
				continue
			}
		} else if it.Category != s.selectedCategory {
			continue
		}
		out = append(out, s.viewLocked(it))
	}
	return out
}

func (s *Session) viewLocked(it domain.MarketItem) ItemView {
	return ItemView{
		MarketItem:     it,
		EffectivePrice: pricing.EffectivePrice(it, s.discountItemID),
		HasDiscount:    it.ID == s.discountItemID,
	}
}

// SalesHistory returns the trailing-window daily sales, oldest first.
func (s *Session) SalesHistory(days int) []domain.DailySales {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sales.History(days)
}

// Balance returns the current balance.
func (s *Session) Balance() domain.PlayerBalance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account.Balance()
}

// CartLine is a cart entry priced against the active market.
type CartLine struct {
	ItemID    string `json:"itemId"`
	Name      string `json:"name,omitempty"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	LineTotal int64  `json:"lineTotal"`
	Available bool   `json:"available"`
}

// Snapshot is the read model of the whole session.
type Snapshot struct {
	MarketID         string                 `json:"marketId"`
	MarketName       string                 `json:"marketName"`
	Owner            domain.MarketOwnership `json:"owner"`
	Categories       []domain.Category      `json:"categories"`
	SelectedCategory string                 `json:"selectedCategory"`
	DailyDiscount    string                 `json:"dailyDiscountItemId"`
	PaymentMethod    domain.PaymentMethod   `json:"paymentMethod"`
	Open             bool                   `json:"open"`
	DemoMode         bool                   `json:"demoMode"`
	PurchaseState    string                 `json:"purchaseState"`
	Balance          domain.PlayerBalance   `json:"balance"`
	Cart             []CartLine             `json:"cart"`
	TotalItems       int64                  `json:"totalItems"`
	TotalPrice       int64                  `json:"totalPrice"`
}

// Snapshot returns a consistent copy of everything the storefront shows.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make([]CartLine, 0)
	for _, e := range s.cart.Entries() {
		line := CartLine{ItemID: e.ItemID, Quantity: e.Quantity}
		if it, ok := s.config.Item(e.ItemID); ok {
			line.Name = it.Name
			line.UnitPrice = pricing.EffectivePrice(it, s.discountItemID)
			line.LineTotal = line.UnitPrice * e.Quantity
			line.Available = true
		}
		lines = append(lines, line)
	}

	return Snapshot{
		MarketID:         s.config.ID,
		MarketName:       s.config.Name,
		Owner:            s.config.Ownership(),
		Categories:       append([]domain.Category{}, s.config.Categories...),
		SelectedCategory: s.selectedCategory,
		DailyDiscount:    s.discountItemID,
		PaymentMethod:    s.paymentMethod,
		Open:             s.open,
		DemoMode:         !s.bridge.Present(),
		PurchaseState:    s.state.String(),
		Balance:          s.account.Balance(),
		Cart:             lines,
		TotalItems:       s.cart.TotalItems(),
		TotalPrice:       s.cart.TotalPrice(s.resolver),
	}
}

// Open marks the storefront visible.
func (s *Session) Open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
}

// HandleInbound applies a host message.
func (s *Session) HandleInbound(msg models.InboundMessage) error {
	switch m := msg.(type) {
	case models.OpenMarket:
		cfg := m.Config()
		if err := cfg.Validate(); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.account.Merge(m.Balance); err != nil {
			return err
		}
		s.activateLocked(cfg)
		s.open = true
		return nil

	case models.UpdateBalance:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.account.Merge(m.BalanceUpdate)

	case models.UpdateOwner:
		s.mu.Lock()
		defer s.mu.Unlock()
		if m.OwnerID != nil {
			s.config.OwnerID = *m.OwnerID
		}
		if m.OwnerName != nil {
			s.config.OwnerName = *m.OwnerName
		}
		return nil

	case models.CloseMarket:
		s.mu.Lock()
		defer s.mu.Unlock()
		s.open = false
		return nil
	}
	return fmt.Errorf("%w: %T", ErrUnhandledInboundKind, msg)
}

// Close sends the close notice to the host, if any, and hides the storefront.
// A failed notice is logged; the storefront closes regardless.
func (s *Session) Close(ctx context.Context) {
	if s.bridge.Present() {
		if _, err := s.bridge.Send(ctx, models.ActionCloseMarket, s.newKey(), models.CloseBody{}); err != nil {
			s.log.Warn("close notice failed", "error", err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
}
