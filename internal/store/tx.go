package store

import (
	"fmt"
	"sort"
	"strings"

	"kassa/backend/internal/domain"
)

// Tx is a consistent view of the store plus the writes staged against it.
// Reads see staged writes; nothing reaches the store until the owning Update
// returns without error.
type Tx struct {
	state    *State
	readOnly bool

	currencies map[string]domain.Currency
	products   map[string]domain.Product
	clients    map[string]domain.Client
	coupons    map[string]domain.Coupon
	offers     map[string]domain.BogoOffer
	sales      map[string]domain.Sale
	shifts     map[string]domain.Shift
	users      map[string]domain.User
	ledger     []domain.LedgerEntry
	audit      []domain.AuditEntry
	business   *domain.Business
}

func newTx(state *State, readOnly bool) *Tx {
	return &Tx{
		state:      state,
		readOnly:   readOnly,
		currencies: make(map[string]domain.Currency),
		products:   make(map[string]domain.Product),
		clients:    make(map[string]domain.Client),
		coupons:    make(map[string]domain.Coupon),
		offers:     make(map[string]domain.BogoOffer),
		sales:      make(map[string]domain.Sale),
		shifts:     make(map[string]domain.Shift),
		users:      make(map[string]domain.User),
	}
}

func (tx *Tx) mustWrite() {
	if tx.readOnly {
		panic("store: write on read-only transaction")
	}
}

func notFound(kind string, id string) error {
	return fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, id)
}

func (tx *Tx) Currencies() []domain.Currency {
	merged := mergeMaps(tx.state.Currencies, tx.currencies)
	out := make([]domain.Currency, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsBase != out[j].IsBase {
			return out[i].IsBase
		}
		return out[i].Code < out[j].Code
	})
	return out
}

func (tx *Tx) PutCurrency(c domain.Currency) {
	tx.mustWrite()
	tx.currencies[c.Code] = c
}

func (tx *Tx) Product(id string) (domain.Product, error) {
	if p, ok := tx.products[id]; ok {
		return cloneProduct(p), nil
	}
	if p, ok := tx.state.Products[id]; ok {
		return cloneProduct(p), nil
	}
	return domain.Product{}, notFound("product", id)
}

func (tx *Tx) Products() []domain.Product {
	merged := mergeMaps(tx.state.Products, tx.products)
	out := make([]domain.Product, 0, len(merged))
	for _, p := range merged {
		out = append(out, cloneProduct(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (tx *Tx) PutProduct(p domain.Product) {
	tx.mustWrite()
	tx.products[p.ID] = cloneProduct(p)
}

func (tx *Tx) Client(id string) (domain.Client, error) {
	if c, ok := tx.clients[id]; ok {
		return cloneClient(c), nil
	}
	if c, ok := tx.state.Clients[id]; ok {
		return cloneClient(c), nil
	}
	return domain.Client{}, notFound("client", id)
}

func (tx *Tx) Clients() []domain.Client {
	merged := mergeMaps(tx.state.Clients, tx.clients)
	out := make([]domain.Client, 0, len(merged))
	for _, c := range merged {
		out = append(out, cloneClient(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (tx *Tx) PutClient(c domain.Client) {
	tx.mustWrite()
	tx.clients[c.ID] = cloneClient(c)
}

func (tx *Tx) Coupons() []domain.Coupon {
	merged := mergeMaps(tx.state.Coupons, tx.coupons)
	out := make([]domain.Coupon, 0, len(merged))
	for _, c := range merged {
		out = append(out, cloneCoupon(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// CouponByCode matches codes case-insensitively.
func (tx *Tx) CouponByCode(code string) (domain.Coupon, error) {
	code = strings.TrimSpace(code)
	for _, c := range tx.Coupons() {
		if strings.EqualFold(c.Code, code) {
			return c, nil
		}
	}
	return domain.Coupon{}, notFound("coupon", code)
}

func (tx *Tx) PutCoupon(c domain.Coupon) {
	tx.mustWrite()
	tx.coupons[c.ID] = cloneCoupon(c)
}

func (tx *Tx) Offer(id string) (domain.BogoOffer, error) {
	if o, ok := tx.offers[id]; ok {
		return o, nil
	}
	if o, ok := tx.state.Offers[id]; ok {
		return o, nil
	}
	return domain.BogoOffer{}, notFound("offer", id)
}

func (tx *Tx) Offers() []domain.BogoOffer {
	merged := mergeMaps(tx.state.Offers, tx.offers)
	out := make([]domain.BogoOffer, 0, len(merged))
	for _, o := range merged {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (tx *Tx) PutOffer(o domain.BogoOffer) {
	tx.mustWrite()
	tx.offers[o.ID] = o
}

func (tx *Tx) Sale(id string) (domain.Sale, error) {
	if s, ok := tx.sales[id]; ok {
		return cloneSale(s), nil
	}
	if s, ok := tx.state.Sales[id]; ok {
		return cloneSale(s), nil
	}
	return domain.Sale{}, notFound("sale", id)
}

// Sales returns sales ordered by ticket sequence.
func (tx *Tx) Sales() []domain.Sale {
	merged := mergeMaps(tx.state.Sales, tx.sales)
	out := make([]domain.Sale, 0, len(merged))
	for _, s := range merged {
		out = append(out, cloneSale(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func (tx *Tx) PutSale(s domain.Sale) {
	tx.mustWrite()
	tx.sales[s.ID] = cloneSale(s)
}

func (tx *Tx) Shift(id string) (domain.Shift, error) {
	if s, ok := tx.shifts[id]; ok {
		return cloneShift(s), nil
	}
	if s, ok := tx.state.Shifts[id]; ok {
		return cloneShift(s), nil
	}
	return domain.Shift{}, notFound("shift", id)
}

func (tx *Tx) Shifts() []domain.Shift {
	merged := mergeMaps(tx.state.Shifts, tx.shifts)
	out := make([]domain.Shift, 0, len(merged))
	for _, s := range merged {
		out = append(out, cloneShift(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

func (tx *Tx) PutShift(s domain.Shift) {
	tx.mustWrite()
	tx.shifts[s.ID] = cloneShift(s)
}

// ActiveShift returns the shift that is not yet closed, if any.
func (tx *Tx) ActiveShift() (domain.Shift, bool) {
	id := tx.Business().ActiveShiftID
	if id == "" {
		return domain.Shift{}, false
	}
	shift, err := tx.Shift(id)
	if err != nil || shift.Status == domain.ShiftClosed {
		return domain.Shift{}, false
	}
	return shift, true
}

func (tx *Tx) User(username string) (domain.User, error) {
	if u, ok := tx.users[username]; ok {
		return u, nil
	}
	if u, ok := tx.state.Users[username]; ok {
		return u, nil
	}
	return domain.User{}, notFound("user", username)
}

func (tx *Tx) Users() []domain.User {
	merged := mergeMaps(tx.state.Users, tx.users)
	out := make([]domain.User, 0, len(merged))
	for _, u := range merged {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func (tx *Tx) PutUser(u domain.User) {
	tx.mustWrite()
	tx.users[u.Username] = u
}

// Ledger returns committed entries followed by staged ones.
func (tx *Tx) Ledger() []domain.LedgerEntry {
	out := make([]domain.LedgerEntry, 0, len(tx.state.Ledger)+len(tx.ledger))
	out = append(out, tx.state.Ledger...)
	out = append(out, tx.ledger...)
	return out
}

func (tx *Tx) AppendLedger(entries ...domain.LedgerEntry) {
	tx.mustWrite()
	tx.ledger = append(tx.ledger, entries...)
}

func (tx *Tx) Audit() []domain.AuditEntry {
	out := make([]domain.AuditEntry, 0, len(tx.state.Audit)+len(tx.audit))
	for _, e := range tx.state.Audit {
		out = append(out, cloneAudit(e))
	}
	for _, e := range tx.audit {
		out = append(out, cloneAudit(e))
	}
	return out
}

func (tx *Tx) AppendAudit(entries ...domain.AuditEntry) {
	tx.mustWrite()
	for _, e := range entries {
		tx.audit = append(tx.audit, cloneAudit(e))
	}
}

func (tx *Tx) Business() domain.Business {
	if tx.business != nil {
		return *tx.business
	}
	return tx.state.Business
}

func (tx *Tx) SetBusiness(b domain.Business) {
	tx.mustWrite()
	tx.business = &b
}

// apply moves every staged write into the state and reports the touched
// namespaces. It cannot fail.
func (tx *Tx) apply() []Namespace {
	dirty := make(map[Namespace]struct{})
	if applyMap(tx.state.Currencies, tx.currencies) {
		dirty[NamespaceCurrencies] = struct{}{}
	}
	if applyMap(tx.state.Products, tx.products) {
		dirty[NamespaceProducts] = struct{}{}
	}
	if applyMap(tx.state.Clients, tx.clients) {
		dirty[NamespaceClients] = struct{}{}
	}
	if applyMap(tx.state.Coupons, tx.coupons) {
		dirty[NamespaceCoupons] = struct{}{}
	}
	if applyMap(tx.state.Offers, tx.offers) {
		dirty[NamespaceOffers] = struct{}{}
	}
	if applyMap(tx.state.Sales, tx.sales) {
		dirty[NamespaceSales] = struct{}{}
	}
	if applyMap(tx.state.Shifts, tx.shifts) {
		dirty[NamespaceShifts] = struct{}{}
	}
	if applyMap(tx.state.Users, tx.users) {
		dirty[NamespaceUsers] = struct{}{}
	}
	if len(tx.ledger) > 0 {
		tx.state.Ledger = append(tx.state.Ledger, tx.ledger...)
		dirty[NamespaceLedger] = struct{}{}
	}
	if len(tx.audit) > 0 {
		tx.state.Audit = append(tx.state.Audit, tx.audit...)
		dirty[NamespaceAudit] = struct{}{}
	}
	if tx.business != nil {
		tx.state.Business = *tx.business
		dirty[NamespaceBusiness] = struct{}{}
	}
	return sortedNamespaces(dirty)
}

func applyMap[V any](dst map[string]V, staged map[string]V) bool {
	for k, v := range staged {
		dst[k] = v
	}
	return len(staged) > 0
}

func mergeMaps[V any](base map[string]V, staged map[string]V) map[string]V {
	if len(staged) == 0 {
		return base
	}
	out := make(map[string]V, len(base)+len(staged))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range staged {
		out[k] = v
	}
	return out
}
