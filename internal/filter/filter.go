package filter

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/example/affiliatebot/internal/logging"
	"github.com/example/affiliatebot/internal/models"
	"github.com/example/affiliatebot/internal/store"
)

// Filter decides which known creators are worth contacting next and
// ingests newly discovered ones. It reads config and creator records and
// writes eligibility-relevant creator fields through the store; it never
// touches sessions.
type Filter struct {
	st  *store.Store
	log *logging.Logger
}

func New(st *store.Store, logLevel string) *Filter {
	return &Filter{st: st, log: logging.New(logLevel).With("module", "filter")}
}

// ParseFollowerCount turns free-text follower counts into integers:
// "125K" -> 125000, "1.2M" -> 1200000, "890" -> 890. Garbage parses to 0.
func ParseFollowerCount(text string) int {
	if text == "" {
		return 0
	}
	var b strings.Builder
	for _, r := range strings.ToUpper(text) {
		switch {
		case r >= '0' && r <= '9', r == '.', r == 'K', r == 'M', r == 'B':
			b.WriteRune(r)
		}
	}
	cleaned := b.String()

	multiplier := 1.0
	switch {
	case strings.Contains(cleaned, "K"):
		multiplier = 1e3
		cleaned = strings.ReplaceAll(cleaned, "K", "")
	case strings.Contains(cleaned, "M"):
		multiplier = 1e6
		cleaned = strings.ReplaceAll(cleaned, "M", "")
	case strings.Contains(cleaned, "B"):
		multiplier = 1e9
		cleaned = strings.ReplaceAll(cleaned, "B", "")
	}

	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return int(math.Round(n * multiplier))
}

// FormatFollowerCount renders a count the way the portal displays it.
// Re-parsing the result yields the same integer within rounding.
func FormatFollowerCount(n int) string {
	switch {
	case n >= 1e9:
		return trimZero(float64(n)/1e9) + "B"
	case n >= 1e6:
		return trimZero(float64(n)/1e6) + "M"
	case n >= 1e3:
		return trimZero(float64(n)/1e3) + "K"
	default:
		return strconv.Itoa(n)
	}
}

func trimZero(f float64) string {
	s := strconv.FormatFloat(f, 'f', 1, 64)
	return strings.TrimSuffix(s, ".0")
}

// IngestAndFilter processes raw discovery results: parses followers,
// applies the follower band and category criteria, upserts each creator
// record, and returns those that also pass the eligibility check, in
// input order.
func (f *Filter) IngestAndFilter(ctx context.Context, raw []models.DiscoveredCreator, cfg *models.BotConfig) ([]models.Creator, error) {
	var passed []models.Creator
	for _, rc := range raw {
		followers := ParseFollowerCount(rc.Followers)

		if followers < cfg.MinFollowers || followers > cfg.MaxFollowers {
			continue
		}

		if len(cfg.Categories) > 0 && !matchesCategory(rc.Category, cfg.Categories) {
			continue
		}

		creator, err := f.st.GetCreatorByUsername(ctx, rc.Username)
		switch {
		case err == store.ErrNotFound:
			creator, err = f.st.CreateCreator(ctx, &models.Creator{
				Username:  rc.Username,
				Followers: followers,
				Category:  rc.Category,
				Status:    models.InvitePending,
			})
			if err != nil {
				f.log.Warn("create creator failed", "username", rc.Username, "err", err)
				continue
			}
		case err != nil:
			f.log.Warn("lookup creator failed", "username", rc.Username, "err", err)
			continue
		default:
			if err := f.st.UpdateCreatorInfo(ctx, creator.ID, followers, rc.Category); err != nil {
				f.log.Warn("refresh creator failed", "username", rc.Username, "err", err)
				continue
			}
			creator.Followers = followers
			creator.Category = rc.Category
		}

		if isEligible(creator, time.Now()) {
			passed = append(passed, *creator)
		}
	}
	return passed, nil
}

func matchesCategory(category string, targets []string) bool {
	lc := strings.ToLower(category)
	for _, t := range targets {
		if strings.Contains(lc, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

// isEligible applies the invitation-recency policy: never re-invite an
// accepted creator, skip anyone contacted within 24 hours, and leave
// rejected creators alone for 7 days.
func isEligible(c *models.Creator, now time.Time) bool {
	if c.Status == models.InviteAccepted {
		return false
	}
	if c.LastInvited != nil && c.LastInvited.After(now.Add(-24*time.Hour)) {
		return false
	}
	if c.Status == models.InviteRejected && c.LastInvited != nil &&
		c.LastInvited.After(now.Add(-7*24*time.Hour)) {
		return false
	}
	return true
}

// Recommend returns the top candidates by score, best first.
func (f *Filter) Recommend(ctx context.Context, limit int) ([]models.Creator, error) {
	cfg, err := f.st.GetBotConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load bot config: %w", err)
	}

	candidates, err := f.st.ListCreatorsEligible(ctx, cfg, limit*2)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return Score(&candidates[i], cfg) > Score(&candidates[j], cfg)
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// Score rates a creator for engagement potential. The sweet spot sits 25%
// of the way up the configured follower band: mid-sized accounts engage
// better than the largest ones.
func Score(c *models.Creator, cfg *models.BotConfig) float64 {
	if c.Followers == 0 {
		return 0
	}

	minFollowers := cfg.MinFollowers
	if minFollowers == 0 {
		minFollowers = 1000
	}
	maxFollowers := cfg.MaxFollowers
	if maxFollowers == 0 {
		maxFollowers = 1000000
	}

	optimal := float64(minFollowers) + float64(maxFollowers-minFollowers)*0.25
	followerScore := 1 - math.Abs(float64(c.Followers)-optimal)/float64(maxFollowers)

	categoryBonus := 0.0
	for _, cat := range cfg.Categories {
		if cat == c.Category {
			categoryBonus = 0.2
			break
		}
	}

	rejectionPenalty := 0.0
	if c.Status == models.InviteRejected {
		rejectionPenalty = 0.3
	}

	return math.Max(0, followerScore+categoryBonus-rejectionPenalty)
}

// categoryKeywords is ordered; the first matching category wins.
var categoryKeywords = []struct {
	name     string
	keywords []string
}{
	{"Beauty", []string{"beauty", "makeup", "skincare", "cosmetic", "lipstick", "foundation"}},
	{"Fashion", []string{"fashion", "style", "outfit", "clothing", "dress", "shoes", "accessories"}},
	{"Fitness", []string{"fitness", "workout", "gym", "health", "exercise", "yoga", "muscle"}},
	{"Lifestyle", []string{"lifestyle", "daily", "life", "routine", "home", "family", "travel"}},
	{"Food", []string{"food", "cooking", "recipe", "chef", "kitchen", "meal", "restaurant"}},
	{"Tech", []string{"tech", "technology", "gadget", "phone", "computer", "review", "unboxing"}},
	{"Gaming", []string{"gaming", "game", "gamer", "xbox", "playstation", "pc", "mobile"}},
	{"Entertainment", []string{"entertainment", "funny", "comedy", "music", "dance", "viral"}},
}

// Categorize keyword-matches a creator's visible text into a category.
// Advisory only; it does not gate the main pipeline.
func Categorize(username, bio string, recentPosts []string) string {
	text := strings.ToLower(username + " " + bio + " " + strings.Join(recentPosts, " "))
	for _, cat := range categoryKeywords {
		for _, kw := range cat.keywords {
			if strings.Contains(text, kw) {
				return cat.name
			}
		}
	}
	return "General"
}
