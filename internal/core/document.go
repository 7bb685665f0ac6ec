package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

type (
	TransactionType string

	Date struct {
		time.Time
	}

	// Transaction is a single financial entry inside a monthly bucket.
	// Identity is the ID field: two transactions with the same ID are the
	// same logical entity regardless of other field differences.
	Transaction struct {
		ID          string          `json:"id"`
		Date        Date            `json:"date"`
		Month       string          `json:"month"`
		Description string          `json:"description"`
		Amount      float64         `json:"amount"`
		Category    string          `json:"category"`
		Type        TransactionType `json:"type"`
		IsVerified  bool            `json:"isVerified"`
	}

	// MonthlyRecord aggregates one canonical period. Balance and SavingsRate
	// are derived from Income and Expenses and are never accepted as input
	// without recomputation.
	MonthlyRecord struct {
		Income       float64       `json:"income"`
		Expenses     float64       `json:"expenses"`
		Balance      float64       `json:"balance"`
		SavingsRate  float64       `json:"savingsRate"`
		Transactions []Transaction `json:"transactions"`
	}

	FinanceModule struct {
		MonthlyBudget float64                  `json:"monthlyBudget"`
		SavingsGoal   float64                  `json:"savingsGoal"`
		MonthlyData   map[string]MonthlyRecord `json:"monthlyData"`
	}

	HeroProfile struct {
		Name   string `json:"name"`
		Title  string `json:"title"`
		Level  int    `json:"level"`
		XP     int    `json:"xp"`
		Avatar string `json:"avatar"`
	}

	StatusModule struct {
		Energy int `json:"energy"`
		Focus  int `json:"focus"`
		Morale int `json:"morale"`
	}

	Outfit struct {
		ID         string   `json:"id"`
		Name       string   `json:"name"`
		Pieces     []string `json:"pieces"`
		IsFavorite bool     `json:"isFavorite"`
	}

	LookModule struct {
		Outfits []Outfit `json:"outfits"`
	}

	StatusItem struct {
		ID    string `json:"id"`
		Label string `json:"label"`
		Done  bool   `json:"done"`
	}

	Skill struct {
		ID       string  `json:"id"`
		Name     string  `json:"name"`
		Level    int     `json:"level"`
		Progress float64 `json:"progress"`
	}

	// UserDataDocument is the per-user root aggregate replicated between the
	// local cache and the remote store. It is owned by the synchronizer; every
	// other component works on read copies and requests mutations through the
	// synchronizer API.
	UserDataDocument struct {
		ID            string        `json:"id"`
		HeroProfile   HeroProfile   `json:"heroProfile"`
		StatusModule  StatusModule  `json:"statusModule"`
		LookModule    LookModule    `json:"lookModule"`
		FinanceModule FinanceModule `json:"financeModule"`
		StatusItems   []StatusItem  `json:"statusItems"`
		Skills        []Skill       `json:"skills"`
		LastSync      time.Time     `json:"lastSyncTimestamp"`
	}
)

var (
	ErrInvalidPeriodKey   = errors.New("invalid period key")
	ErrEmptyDocumentID    = errors.New("empty document id")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidTransaction = errors.New("invalid transaction")
)

// NewDocument returns a document with initialized default sub-structures,
// used on first load when no remote copy exists yet.
func NewDocument(id string) *UserDataDocument {
	return &UserDataDocument{
		ID:          id,
		HeroProfile: HeroProfile{Level: 1},
		FinanceModule: FinanceModule{
			MonthlyData: make(map[string]MonthlyRecord),
		},
		StatusItems: []StatusItem{},
		Skills:      []Skill{},
	}
}

func (d *UserDataDocument) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return ErrEmptyDocumentID
	}
	return nil
}

// Clone returns a deep copy safe to hand out as a read copy.
func (d *UserDataDocument) Clone() *UserDataDocument {
	out := *d
	out.FinanceModule.MonthlyData = make(map[string]MonthlyRecord, len(d.FinanceModule.MonthlyData))
	for k, rec := range d.FinanceModule.MonthlyData {
		out.FinanceModule.MonthlyData[k] = rec.clone()
	}
	out.StatusItems = append([]StatusItem(nil), d.StatusItems...)
	out.Skills = append([]Skill(nil), d.Skills...)
	out.LookModule.Outfits = make([]Outfit, len(d.LookModule.Outfits))
	for i, o := range d.LookModule.Outfits {
		o.Pieces = append([]string(nil), o.Pieces...)
		out.LookModule.Outfits[i] = o
	}
	return &out
}

func (r MonthlyRecord) clone() MonthlyRecord {
	r.Transactions = append([]Transaction(nil), r.Transactions...)
	return r
}

// Recompute derives Balance and SavingsRate from Income and Expenses.
// SavingsRate is a rounded percentage and 0 whenever Income is 0.
func (r *MonthlyRecord) Recompute() {
	r.Income = sanitizeAmount(r.Income)
	r.Expenses = sanitizeAmount(r.Expenses)
	r.Balance = r.Income - r.Expenses
	if r.Income > 0 {
		r.SavingsRate = math.Round(r.Balance / r.Income * 100)
	} else {
		r.SavingsRate = 0
	}
}

// UnmarshalJSON tolerates loosely typed stored buckets: non-numeric income or
// expense values decode to 0 instead of failing the whole document.
func (r *MonthlyRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		Income       json.RawMessage `json:"income"`
		Expenses     json.RawMessage `json:"expenses"`
		Balance      json.RawMessage `json:"balance"`
		SavingsRate  json.RawMessage `json:"savingsRate"`
		Transactions []Transaction   `json:"transactions"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Income = coerceNumber(raw.Income)
	r.Expenses = coerceNumber(raw.Expenses)
	r.Balance = coerceNumber(raw.Balance)
	r.SavingsRate = coerceNumber(raw.SavingsRate)
	r.Transactions = raw.Transactions
	return nil
}

// coerceNumber decodes a JSON value as float64, accepting numeric strings and
// mapping null, NaN and anything non-numeric to 0.
func coerceNumber(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return sanitizeAmount(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return sanitizeAmount(f)
		}
	}
	return 0
}

func sanitizeAmount(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// NewDate creates a Date from year, month, day.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

const dateLayout = "2006-01-02"

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(d.Format(dateLayout))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		// Accept full timestamps coming from older clients.
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return err
		}
	}
	d.Time = t
	return nil
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidTransaction)
	}
	if t.Amount < 0 || math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0) {
		return ErrInvalidAmount
	}
	if t.Type != Income && t.Type != Expense {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTransaction, t.Type)
	}
	return nil
}
