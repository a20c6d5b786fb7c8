package broadcast

import (
	"math/rand/v2"
	"time"

	"github.com/zhouzirui/supportdesk/backend/internal/config"
)

// Metric topics a client can subscribe to.
const (
	TopicPerformanceMetrics = "performance_metrics"
	TopicCPUUsage           = "cpu_usage"
	TopicMemoryUsage        = "memory_usage"
	TopicActiveUsers        = "active_users"
	TopicUserActivity       = "user_activity"
	TopicUsersByCountry     = "users_by_country"
	TopicRealtimeEvents     = "realtime_events"
	TopicSystemAlerts       = "system_alerts"
)

// Topics is the default subscription set of a new client.
var Topics = []string{
	TopicPerformanceMetrics,
	TopicCPUUsage,
	TopicMemoryUsage,
	TopicActiveUsers,
	TopicUserActivity,
	TopicUsersByCountry,
	TopicRealtimeEvents,
	TopicSystemAlerts,
}

// Generator produces one topic's payload on a fixed period. Chance below 1 gates
// each tick: the payload is only published when a random draw falls under it.
type Generator struct {
	Topic    string
	Every    time.Duration
	Chance   float64
	Generate func(r *rand.Rand, now time.Time) any
}

// DefaultGenerators returns the eight dashboard feeds.
func DefaultGenerators(cfg config.BroadcastConfig) []Generator {
	return []Generator{
		{Topic: TopicCPUUsage, Every: cfg.FastEvery, Chance: 1, Generate: genCPUUsage},
		{Topic: TopicMemoryUsage, Every: cfg.FastEvery, Chance: 1, Generate: genMemoryUsage},
		{Topic: TopicActiveUsers, Every: 3 * time.Second, Chance: 1, Generate: genActiveUsers},
		{Topic: TopicUserActivity, Every: 4 * time.Second, Chance: 1, Generate: genUserActivity},
		{Topic: TopicUsersByCountry, Every: cfg.AggregateEvery, Chance: 1, Generate: genUsersByCountry},
		{Topic: TopicPerformanceMetrics, Every: cfg.AggregateEvery, Chance: 1, Generate: genPerformanceMetrics},
		{Topic: TopicRealtimeEvents, Every: 8 * time.Second, Chance: 1, Generate: genRealtimeEvents},
		{Topic: TopicSystemAlerts, Every: cfg.AlertEvery, Chance: cfg.AlertChance, Generate: genSystemAlerts},
	}
}

type Sample struct {
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
}

type ActiveUsers struct {
	ActiveUsers int     `json:"activeUsers"`
	PageViews   int     `json:"pageViews"`
	NewSessions int     `json:"newSessions"`
	BounceRate  float64 `json:"bounceRate"`
}

type UserActivity struct {
	ID       int64  `json:"id"`
	User     string `json:"user"`
	Action   string `json:"action"`
	Location string `json:"location"`
	Time     string `json:"time"`
}

type CountryUsers struct {
	Country string `json:"country"`
	Users   int    `json:"users"`
	Flag    string `json:"flag"`
}

type RealtimeEvent struct {
	ID          int64   `json:"id"`
	Type        string  `json:"type"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Value       *string `json:"value"`
	Time        string  `json:"time"`
}

type SystemAlert struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type PerformanceMetrics struct {
	CPU               float64 `json:"cpu"`
	Memory            float64 `json:"memory"`
	Disk              float64 `json:"disk"`
	Network           float64 `json:"network"`
	ResponseTime      float64 `json:"responseTime"`
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	ErrorRate         float64 `json:"errorRate"`
	Timestamp         string  `json:"timestamp"`
}

var (
	activityActions = []string{
		"Viewed homepage", "Completed purchase", "Started trial", "Downloaded resource",
		"Subscribed newsletter", "Added to cart", "Shared content", "Left review",
		"Updated profile", "Contacted support",
	}
	activityLocations = []string{
		"New York, US", "London, UK", "Toronto, CA", "Sydney, AU",
		"Berlin, DE", "Tokyo, JP", "Paris, FR", "São Paulo, BR",
	}
	activityUsers = []string{
		"Anonymous User", "John Doe", "Sarah Chen", "Mike Johnson",
		"Emma Wilson", "David Kim", "Lisa Wang", "Alex Thompson",
	}
	alertTypes    = []string{"warning", "error", "info"}
	alertMessages = []string{
		"High CPU usage detected", "Memory usage above threshold", "Disk space running low",
		"Network latency increased", "Database connection pool near limit",
		"API rate limit approaching", "Cache hit ratio decreased", "Background job queue growing",
	}
)

// countryBase holds each country's flag, floor and random spread.
var countryBase = []struct {
	name, flag   string
	base, spread int
}{
	{"United States", "🇺🇸", 400, 100},
	{"United Kingdom", "🇬🇧", 300, 50},
	{"Canada", "🇨🇦", 150, 40},
	{"Germany", "🇩🇪", 150, 30},
	{"France", "🇫🇷", 130, 30},
	{"Australia", "🇦🇺", 110, 20},
	{"Japan", "🇯🇵", 90, 20},
	{"Brazil", "🇧🇷", 80, 20},
	{"South Africa", "🇿🇦", 60, 20},
	{"Mexico", "🇲🇽", 50, 20},
	{"Italy", "🇮🇹", 40, 20},
	{"Spain", "🇪🇸", 30, 20},
	{"Netherlands", "🇳🇱", 20, 20},
	{"Sweden", "🇸🇪", 10, 20},
	{"Russia", "🇷🇺", 5, 20},
	{"China", "🇨🇳", 5, 20},
	{"South Korea", "🇰🇷", 5, 20},
	{"Turkey", "🇹🇷", 5, 20},
	{"Argentina", "🇦🇷", 5, 20},
	{"Poland", "🇵🇱", 5, 20},
	{"Belgium", "🇧🇪", 5, 20},
	{"Switzerland", "🇨🇭", 5, 20},
	{"Norway", "🇳🇴", 5, 20},
	{"Finland", "🇫🇮", 5, 20},
	{"Denmark", "🇩🇰", 5, 20},
	{"Ireland", "🇮🇪", 5, 20},
	{"Portugal", "🇵🇹", 5, 20},
	{"Greece", "🇬🇷", 5, 20},
	{"Czech Republic", "🇨🇿", 5, 20},
	{"Hungary", "🇭🇺", 5, 20},
	{"Romania", "🇷🇴", 5, 20},
	{"Ukraine", "🇺🇦", 5, 20},
}

type eventKind struct {
	kind         string
	titles       []string
	descriptions []string
	values       []string
}

var eventKinds = []eventKind{
	{"conversion", []string{"New Purchase", "Subscription Upgrade", "Premium Plan"},
		[]string{"Order completed", "Plan upgraded", "Premium activated"},
		[]string{"$299.99", "$49.99", "$99.99"}},
	{"signup", []string{"New User Registration", "Trial Started", "Account Created"},
		[]string{"User signed up", "Free trial began", "Account activated"},
		nil},
	{"goal", []string{"Goal Completed", "Milestone Reached", "Target Achieved"},
		[]string{"Monthly target hit", "User milestone", "Revenue goal"},
		[]string{"1000 users", "50K visits", "$10K MRR"}},
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func pick(r *rand.Rand, values []string) string { return values[r.IntN(len(values))] }

func genCPUUsage(r *rand.Rand, now time.Time) any {
	return Sample{Timestamp: stamp(now), Value: r.Float64() * 100}
}

func genMemoryUsage(r *rand.Rand, now time.Time) any {
	return Sample{Timestamp: stamp(now), Value: r.Float64() * 100}
}

func genActiveUsers(r *rand.Rand, _ time.Time) any {
	return ActiveUsers{
		ActiveUsers: r.IntN(500) + 1000,
		PageViews:   r.IntN(1000) + 3000,
		NewSessions: r.IntN(100) + 200,
		BounceRate:  r.Float64()*40 + 20,
	}
}

func genUserActivity(r *rand.Rand, now time.Time) any {
	return UserActivity{
		ID:       now.UnixMilli(),
		User:     pick(r, activityUsers),
		Action:   pick(r, activityActions),
		Location: pick(r, activityLocations),
		Time:     stamp(now),
	}
}

func genUsersByCountry(r *rand.Rand, _ time.Time) any {
	out := make([]CountryUsers, len(countryBase))
	for i, c := range countryBase {
		out[i] = CountryUsers{Country: c.name, Users: c.base + r.IntN(c.spread), Flag: c.flag}
	}
	return out
}

func genRealtimeEvents(r *rand.Rand, now time.Time) any {
	kind := eventKinds[r.IntN(len(eventKinds))]
	i := r.IntN(len(kind.titles))
	ev := RealtimeEvent{
		ID:          now.UnixMilli(),
		Type:        kind.kind,
		Title:       kind.titles[i],
		Description: kind.descriptions[i],
		Time:        stamp(now),
	}
	if kind.values != nil {
		v := kind.values[i]
		ev.Value = &v
	}
	return ev
}

func genSystemAlerts(r *rand.Rand, now time.Time) any {
	return SystemAlert{
		ID:        now.UnixMilli(),
		Type:      pick(r, alertTypes),
		Message:   pick(r, alertMessages),
		Timestamp: stamp(now),
	}
}

func genPerformanceMetrics(r *rand.Rand, now time.Time) any {
	return PerformanceMetrics{
		CPU:               r.Float64() * 100,
		Memory:            r.Float64() * 100,
		Disk:              r.Float64() * 100,
		Network:           r.Float64() * 100,
		ResponseTime:      r.Float64() * 500,
		RequestsPerSecond: r.Float64() * 100,
		ErrorRate:         r.Float64() * 5,
		Timestamp:         stamp(now),
	}
}
