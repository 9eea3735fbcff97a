// Package catalog описывает агентов, доступных в маркетплейсе: цену подписки,
// список возможностей и внешние параметры (адрес запуска, цена у провайдера).
package catalog

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/agent-marketplace/internal/config"
)

// Agent карточка агента маркетплейса.
type Agent struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	MonthlyPrice decimal.Decimal `json:"monthly_price"`
	Features     []string        `json:"features"`
	LaunchURL    string          `json:"-"`
	PriceID      string          `json:"-"`
}

// Purchasable сообщает, можно ли оформить подписку на агента у провайдера.
func (a Agent) Purchasable() bool {
	return a.PriceID != ""
}

var plans = []Agent{
	{
		ID:           "resume-analyzer",
		Name:         "Resume Analyzer",
		Description:  "Scores resumes against a job description and highlights gaps.",
		MonthlyPrice: decimal.NewFromInt(19),
		Features:     []string{"ATS compatibility score", "Keyword gap analysis", "Improvement suggestions"},
	},
	{
		ID:           "business-intelligence",
		Name:         "Business Intelligence",
		Description:  "Turns business data into dashboards and plain-language insights.",
		MonthlyPrice: decimal.NewFromInt(49),
		Features:     []string{"Automated reports", "Trend detection", "Natural language queries"},
	},
	{
		ID:           "sop-assistant",
		Name:         "SOP Assistant",
		Description:  "Drafts and maintains standard operating procedures.",
		MonthlyPrice: decimal.NewFromInt(29),
		Features:     []string{"SOP templates", "Version tracking", "Compliance checklists"},
	},
	{
		ID:           "ai-recruitment",
		Name:         "AI Recruitment",
		Description:  "Screens candidates and schedules interviews.",
		MonthlyPrice: decimal.NewFromInt(39),
		Features:     []string{"Candidate ranking", "Interview scheduling", "Outreach templates"},
	},
	{
		ID:           "crisp-write",
		Name:         "CrispWrite",
		Description:  "Writes and edits marketing and business copy.",
		MonthlyPrice: decimal.NewFromInt(24),
		Features:     []string{"Tone control", "SEO suggestions", "Long-form drafts"},
	},
}

// Catalog неизменяемый справочник агентов.
type Catalog struct {
	agents map[string]Agent
	order  []string
}

// New собирает каталог из встроенных тарифов и внешних параметров агентов из конфига.
// Агенты из конфига, которых нет среди тарифов, игнорируются.
func New(external map[string]config.AgentConfig) *Catalog {
	c := &Catalog{agents: make(map[string]Agent, len(plans))}
	for _, p := range plans {
		a := p
		a.Features = append([]string(nil), p.Features...)
		if ext, ok := external[a.ID]; ok {
			a.LaunchURL = ext.LaunchURL
			a.PriceID = ext.PriceID
		}
		c.agents[a.ID] = a
		c.order = append(c.order, a.ID)
	}
	return c
}

// Get возвращает агента по идентификатору.
func (c *Catalog) Get(id string) (Agent, bool) {
	a, ok := c.agents[id]
	a.Features = append([]string(nil), a.Features...)
	return a, ok
}

// List возвращает агентов в порядке каталога.
func (c *Catalog) List() []Agent {
	out := make([]Agent, 0, len(c.order))
	for _, id := range c.order {
		a := c.agents[id]
		a.Features = append([]string(nil), a.Features...)
		out = append(out, a)
	}
	return out
}

// IDs возвращает отсортированные идентификаторы агентов.
func (c *Catalog) IDs() []string {
	ids := append([]string(nil), c.order...)
	sort.Strings(ids)
	return ids
}
