package monitor

import (
	"fmt"
	"io"
	"strings"

	"aster-hedge-bot/internal/account"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"
)

const clearScreen = "\033[H\033[2J"

var (
	primaryColor = lipgloss.Color("#0077cc")
	errorColor   = lipgloss.Color("#cc3300")
	successColor = lipgloss.Color("#33cc33")
	mutedColor   = lipgloss.Color("#999999")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(primaryColor).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	footerStyle = lipgloss.NewStyle().Foreground(mutedColor)
)

// Console redraws the model on a terminal.
type Console struct {
	out   io.Writer
	clear bool
}

func NewConsole(out io.Writer, clear bool) *Console {
	return &Console{out: out, clear: clear}
}

func (c *Console) Observe(m Model) {
	var b strings.Builder
	if c.clear {
		b.WriteString(clearScreen)
	}
	b.WriteString(Render(m))
	b.WriteString("\n")
	_, _ = io.WriteString(c.out, b.String())
}

// Render lays the model out as market, trading and account sections.
func Render(m Model) string {
	s := m.Stats
	market := table.New().
		Border(lipgloss.HiddenBorder()).
		Row("Symbol", s.Symbol).
		Row("Price", fixed(m.Price, 2)).
		Row("Funding rate", fixed(s.CurrentFundingRate.Mul(decimal.NewFromInt(100)), 4)+"%").
		Row("Leverage", fmt.Sprintf("%dx", s.Leverage)).
		Row("Hold", fmt.Sprintf("%ds", s.HoldSeconds))

	lastTrade := "-"
	if !s.LastTradeTime.IsZero() {
		lastTrade = s.LastTradeTime.Format("2006-01-02 15:04:05")
	}
	trading := table.New().
		Border(lipgloss.HiddenBorder()).
		Row("Phase", string(s.Phase)).
		Row("Trades", fmt.Sprintf("%d", s.TradeCount)).
		Row("Failed cycles", fmt.Sprintf("%d", s.FailedCycles)).
		Row("Volume", fixed(s.TotalVolumeBase, 3)).
		Row("Volume (USDT)", fixed(s.TotalVolumeQuote, 2)).
		Row("Last trade", lastTrade).
		Row("Initial balance", fixed(m.InitialBalance, 4)+" USDT").
		Row("Total balance", fixed(m.TotalBalance, 4)+" USDT").
		Row("Total PnL", pnl(m.TotalPnl))

	accounts := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Account", "Side", "Qty", "Entry", "uPnL", "Margin", "Liq. price", "Status")
	for _, snap := range m.Accounts {
		accounts.Row(
			snap.Account,
			string(snap.PositionSide),
			fixed(snap.Quantity, 3),
			fixed(snap.EntryPrice, 2),
			fixed(snap.UnrealizedPnl, 8),
			fixed(snap.MarginBalance, 8),
			fixed(snap.LiquidationPrice, 8),
			status(snap),
		)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Hedge Trading Monitor"),
		lipgloss.JoinHorizontal(lipgloss.Top,
			sectionStyle.Render(market.String()),
			sectionStyle.Render(trading.String()),
		),
		sectionStyle.Render(accounts.String()),
		footerStyle.Render("Updated "+m.Time.Format("15:04:05")),
	)
}

func fixed(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func pnl(d decimal.Decimal) string {
	text := fixed(d, 4) + " USDT"
	switch d.Sign() {
	case 1:
		return lipgloss.NewStyle().Foreground(successColor).Render(text)
	case -1:
		return lipgloss.NewStyle().Foreground(errorColor).Render(text)
	}
	return text
}

func status(snap account.Snapshot) string {
	if snap.Healthy() {
		return lipgloss.NewStyle().Foreground(successColor).Render(snap.StatusText)
	}
	if strings.HasPrefix(snap.StatusText, "Error:") {
		return lipgloss.NewStyle().Foreground(errorColor).Render(snap.StatusText)
	}
	return snap.StatusText
}
