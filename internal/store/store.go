package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"kassa/backend/internal/domain"
)

type Namespace string

const (
	NamespaceLedger     Namespace = "ledger"
	NamespaceSales      Namespace = "sales"
	NamespaceClients    Namespace = "clients"
	NamespaceShifts     Namespace = "shifts"
	NamespaceProducts   Namespace = "products"
	NamespaceCoupons    Namespace = "coupons"
	NamespaceOffers     Namespace = "offers"
	NamespaceCurrencies Namespace = "currencies"
	NamespaceBusiness   Namespace = "business"
	NamespaceAudit      Namespace = "audit"
	NamespaceUsers      Namespace = "users"
)

var Namespaces = []Namespace{
	NamespaceLedger,
	NamespaceSales,
	NamespaceClients,
	NamespaceShifts,
	NamespaceProducts,
	NamespaceCoupons,
	NamespaceOffers,
	NamespaceCurrencies,
	NamespaceBusiness,
	NamespaceAudit,
	NamespaceUsers,
}

// State is every aggregate the engine owns, keyed by id.
type State struct {
	Currencies map[string]domain.Currency  `json:"currencies"`
	Products   map[string]domain.Product   `json:"products"`
	Clients    map[string]domain.Client    `json:"clients"`
	Coupons    map[string]domain.Coupon    `json:"coupons"`
	Offers     map[string]domain.BogoOffer `json:"offers"`
	Sales      map[string]domain.Sale      `json:"sales"`
	Shifts     map[string]domain.Shift     `json:"shifts"`
	Users      map[string]domain.User      `json:"users"`
	Ledger     []domain.LedgerEntry        `json:"ledger"`
	Audit      []domain.AuditEntry         `json:"audit"`
	Business   domain.Business             `json:"business"`
}

func newState() State {
	return State{
		Currencies: make(map[string]domain.Currency),
		Products:   make(map[string]domain.Product),
		Clients:    make(map[string]domain.Client),
		Coupons:    make(map[string]domain.Coupon),
		Offers:     make(map[string]domain.BogoOffer),
		Sales:      make(map[string]domain.Sale),
		Shifts:     make(map[string]domain.Shift),
		Users:      make(map[string]domain.User),
		Ledger:     make([]domain.LedgerEntry, 0, 256),
		Audit:      make([]domain.AuditEntry, 0, 256),
	}
}

// CommitHook receives the namespaces touched by a committed update.
type CommitHook func(namespaces []Namespace)

// Store is the single owner of engine state. All writes go through Update,
// which serializes writers and applies each staged intent as one step.
type Store struct {
	mu    sync.RWMutex
	state State

	hookMu sync.RWMutex
	hooks  []CommitHook
}

func New() *Store {
	return &Store{state: newState()}
}

func (s *Store) OnCommit(hook CommitHook) {
	if hook == nil {
		return
	}
	s.hookMu.Lock()
	s.hooks = append(s.hooks, hook)
	s.hookMu.Unlock()
}

// Update runs fn against a staging transaction. Nothing fn writes is visible
// until fn returns nil; an error or panic discards the whole intent.
func (s *Store) Update(fn func(tx *Tx) error) error {
	dirty, err := s.commit(fn)
	if err != nil {
		return err
	}
	if len(dirty) > 0 {
		s.notify(dirty)
	}
	return nil
}

func (s *Store) commit(fn func(tx *Tx) error) (dirty []Namespace, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			dirty = nil
			err = fmt.Errorf("%w: %v", domain.ErrSystem, r)
		}
	}()

	tx := newTx(&s.state, false)
	if err := fn(tx); err != nil {
		return nil, err
	}
	return tx.apply(), nil
}

// View runs fn against a read-only transaction.
func (s *Store) View(fn func(tx *Tx) error) (err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", domain.ErrSystem, r)
		}
	}()
	return fn(newTx(&s.state, true))
}

func (s *Store) notify(dirty []Namespace) {
	s.hookMu.RLock()
	hooks := append([]CommitHook(nil), s.hooks...)
	s.hookMu.RUnlock()
	for _, hook := range hooks {
		hook(dirty)
	}
}

// Snapshot encodes the full state deterministically.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(s.state)
}

// Export encodes one namespace as a standalone document.
func (s *Store) Export(ns Namespace) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch ns {
	case NamespaceLedger:
		return json.Marshal(s.state.Ledger)
	case NamespaceSales:
		return json.Marshal(s.state.Sales)
	case NamespaceClients:
		return json.Marshal(s.state.Clients)
	case NamespaceShifts:
		return json.Marshal(s.state.Shifts)
	case NamespaceProducts:
		return json.Marshal(s.state.Products)
	case NamespaceCoupons:
		return json.Marshal(s.state.Coupons)
	case NamespaceOffers:
		return json.Marshal(s.state.Offers)
	case NamespaceCurrencies:
		return json.Marshal(s.state.Currencies)
	case NamespaceBusiness:
		return json.Marshal(s.state.Business)
	case NamespaceAudit:
		return json.Marshal(s.state.Audit)
	case NamespaceUsers:
		return json.Marshal(s.state.Users)
	}
	return nil, fmt.Errorf("unknown namespace %q", ns)
}

// Import replaces one namespace with a document produced by Export.
func (s *Store) Import(ns Namespace, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target any
	switch ns {
	case NamespaceLedger:
		s.state.Ledger = nil
		target = &s.state.Ledger
	case NamespaceSales:
		s.state.Sales = nil
		target = &s.state.Sales
	case NamespaceClients:
		s.state.Clients = nil
		target = &s.state.Clients
	case NamespaceShifts:
		s.state.Shifts = nil
		target = &s.state.Shifts
	case NamespaceProducts:
		s.state.Products = nil
		target = &s.state.Products
	case NamespaceCoupons:
		s.state.Coupons = nil
		target = &s.state.Coupons
	case NamespaceOffers:
		s.state.Offers = nil
		target = &s.state.Offers
	case NamespaceCurrencies:
		s.state.Currencies = nil
		target = &s.state.Currencies
	case NamespaceBusiness:
		s.state.Business = domain.Business{}
		target = &s.state.Business
	case NamespaceAudit:
		s.state.Audit = nil
		target = &s.state.Audit
	case NamespaceUsers:
		s.state.Users = nil
		target = &s.state.Users
	default:
		return fmt.Errorf("unknown namespace %q", ns)
	}
	if err := json.Unmarshal(doc, target); err != nil {
		return fmt.Errorf("import %s: %w", ns, err)
	}
	s.ensureMaps()
	return nil
}

func (s *Store) ensureMaps() {
	fresh := newState()
	if s.state.Currencies == nil {
		s.state.Currencies = fresh.Currencies
	}
	if s.state.Products == nil {
		s.state.Products = fresh.Products
	}
	if s.state.Clients == nil {
		s.state.Clients = fresh.Clients
	}
	if s.state.Coupons == nil {
		s.state.Coupons = fresh.Coupons
	}
	if s.state.Offers == nil {
		s.state.Offers = fresh.Offers
	}
	if s.state.Sales == nil {
		s.state.Sales = fresh.Sales
	}
	if s.state.Shifts == nil {
		s.state.Shifts = fresh.Shifts
	}
	if s.state.Users == nil {
		s.state.Users = fresh.Users
	}
}

func sortedNamespaces(set map[Namespace]struct{}) []Namespace {
	out := make([]Namespace, 0, len(set))
	for ns := range set {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
