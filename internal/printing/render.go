package printing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"kassa/backend/internal/domain"
)

const defaultWidth = 40

// Renderer lays out tickets and Z-reports as fixed-width text for receipt
// printers.
type Renderer struct {
	printer *message.Printer
	width   int
}

func NewRenderer(lang language.Tag, width int) *Renderer {
	if width < 24 {
		width = defaultWidth
	}
	return &Renderer{printer: message.NewPrinter(lang), width: width}
}

// Amount formats d with two decimals and locale digit grouping.
func (r *Renderer) Amount(d decimal.Decimal) string {
	d = d.Round(2)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	whole := d.Truncate(0)
	cents := d.Sub(whole).Shift(2).IntPart()
	return fmt.Sprintf("%s%s.%02d", sign, r.printer.Sprintf("%d", whole.IntPart()), cents)
}

func (r *Renderer) Money(d decimal.Decimal, currency string) string {
	return r.Amount(d) + " " + currency
}

func (r *Renderer) Ticket(sale domain.Sale, business string) string {
	var b strings.Builder
	r.center(&b, business)
	r.center(&b, "Ticket #"+sale.TicketNumber)
	r.center(&b, sale.CreatedAt.UTC().Format("2006-01-02 15:04"))
	r.rule(&b)
	for _, item := range sale.Items {
		name := item.Name
		if item.Reward {
			name += " *"
		}
		r.line(&b, fmt.Sprintf("%d x %s", item.Qty, name), r.Amount(item.LineTotal))
	}
	r.rule(&b)
	r.line(&b, "Subtotal", r.Money(sale.Subtotal, sale.Currency))
	for _, offer := range sale.Offers {
		r.line(&b, offer.Name, "-"+r.Amount(offer.Discount))
	}
	if sale.CouponDiscount.IsPositive() {
		r.line(&b, "Coupon "+sale.CouponCode, "-"+r.Amount(sale.CouponDiscount))
	}
	r.line(&b, "TOTAL", r.Money(sale.Total, sale.Currency))
	for _, p := range sale.Payments {
		r.line(&b, string(p.Method), r.Money(p.Amount, p.Currency))
	}
	if sale.ChangeBase.IsPositive() {
		r.line(&b, "Change", r.Amount(sale.ChangeBase))
	}
	if sale.RemainingCredit != nil {
		r.line(&b, "Credit left", r.Amount(*sale.RemainingCredit))
	}
	r.rule(&b)
	r.center(&b, "Cashier: "+sale.CashierID)
	return b.String()
}

func (r *Renderer) ZReport(shift domain.Shift, business string) string {
	var b strings.Builder
	r.center(&b, business)
	r.center(&b, "Z REPORT")
	if shift.ZReport == nil {
		r.center(&b, "shift "+shift.ID+" is not closed")
		return b.String()
	}
	z := shift.ZReport
	r.line(&b, "Opened", z.OpenedAt.UTC().Format("2006-01-02 15:04"))
	r.line(&b, "Closed", z.ClosedAt.UTC().Format("2006-01-02 15:04"))
	r.line(&b, "Closed by", shift.ClosedBy)
	if shift.AuthorizedBy != "" && shift.AuthorizedBy != shift.ClosedBy {
		r.line(&b, "Authorized by", shift.AuthorizedBy)
	}
	r.rule(&b)
	for _, bucket := range z.Buckets {
		r.line(&b, bucket.Key().String(), r.Amount(bucket.Expected)+" / "+r.Amount(bucket.Actual))
	}
	r.rule(&b)
	r.line(&b, "Sales", r.printer.Sprintf("%d", z.SalesCount))
	codes := make([]string, 0, len(z.SalesTotals))
	for code := range z.SalesTotals {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		r.line(&b, "  "+code, r.Amount(z.SalesTotals[code]))
	}
	r.line(&b, "Sales (base)", r.Amount(z.SalesTotalBase))
	r.line(&b, "Discounts (base)", r.Amount(z.DiscountBase))
	r.line(&b, "Refunds (base)", r.Amount(z.RefundsBase))
	if len(z.Stock) > 0 {
		r.rule(&b)
		for _, m := range z.Stock {
			r.line(&b, m.Name, fmt.Sprintf("%d -%d +%d = %d", m.Initial, m.Sold, m.Refunded, m.Final))
		}
	}
	return b.String()
}

func (r *Renderer) line(b *strings.Builder, left string, right string) {
	gap := r.width - len([]rune(left)) - len([]rune(right))
	if gap < 1 {
		room := r.width - len([]rune(right)) - 1
		if room < 1 {
			room = 1
		}
		left = string([]rune(left)[:min(room, len([]rune(left)))])
		gap = r.width - len([]rune(left)) - len([]rune(right))
		if gap < 1 {
			gap = 1
		}
	}
	b.WriteString(left)
	b.WriteString(strings.Repeat(" ", gap))
	b.WriteString(right)
	b.WriteByte('\n')
}

func (r *Renderer) center(b *strings.Builder, text string) {
	pad := (r.width - len([]rune(text))) / 2
	if pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	b.WriteString(text)
	b.WriteByte('\n')
}

func (r *Renderer) rule(b *strings.Builder) {
	b.WriteString(strings.Repeat("-", r.width))
	b.WriteByte('\n')
}
