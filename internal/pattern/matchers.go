package pattern

import (
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/learnd/internal/memory"
)

// maxMatchLength caps regex scanning on oversized content.
const maxMatchLength = 8192

// explicitConfidence is the base confidence for user-declared patterns.
const explicitConfidence = 0.9

// explicitTagPrefix marks a tag as a user-declared pattern, e.g.
// "pattern:event_sourcing".
const explicitTagPrefix = "pattern:"

// explicitMarker matches inline declarations such as "Pattern: event_sourcing".
// Names are slug tokens; multi-word names use underscores.
var explicitMarker = regexp.MustCompile(`(?i)\bpattern:\s*([a-z][a-z0-9_-]{2,39})`)

// matchRule pairs a compiled regex with the pattern it detects. Rules are
// evaluated in order within a table; every matching rule emits a candidate.
type matchRule struct {
	regex       *regexp.Regexp
	category    string
	patternType string
	name        string
	description string
	confidence  float64
}

// Detector turns a memory event into pattern candidates using ordered
// matchers: user-declared patterns first, then the rule table for the
// event's memory type, then a generic keyword fallback that only runs
// when nothing else fired.
//
// Thread-safe: all regex patterns are compiled at construction time.
type Detector struct {
	typed   map[string][]matchRule
	keyword []matchRule
	known   map[string]matchRule
}

// NewDetector creates a detector with the built-in rule tables.
func NewDetector() *Detector {
	d := &Detector{
		typed: map[string][]matchRule{
			memory.TypeArchitecture:   architectureRules(),
			memory.TypeDecision:       designRules(),
			memory.TypeCode:           codeRules(),
			memory.TypeTechContext:    techTable,
			memory.TypeBug:            bugRules(),
			memory.TypeLessonsLearned: lessonRules(),
		},
		keyword: keywordRules(),
		known:   make(map[string]matchRule),
	}
	for _, rules := range d.typed {
		for _, r := range rules {
			if _, ok := d.known[r.patternType]; !ok {
				d.known[r.patternType] = r
			}
		}
	}
	for _, r := range d.keyword {
		if _, ok := d.known[r.patternType]; !ok {
			d.known[r.patternType] = r
		}
	}
	return d
}

// Detect returns the deduplicated pattern candidates for one memory event.
// When the same signature fires from several matchers, the earliest (highest
// priority) candidate wins.
func (d *Detector) Detect(ev *memory.Event) []Candidate {
	haystack := ev.Content
	if len(ev.Tags) > 0 {
		haystack += " " + strings.Join(ev.Tags, " ")
	}
	if len(haystack) > maxMatchLength {
		haystack = haystack[:maxMatchLength]
	}

	out := d.explicit(ev, haystack)
	if rules, ok := d.typed[ev.MemoryType]; ok {
		out = append(out, matchAll(rules, haystack, DetectionMemoryType)...)
	}
	if len(out) == 0 {
		out = matchAll(d.keyword, haystack, DetectionKeyword)
	}
	return dedupe(out)
}

// explicit collects user-declared patterns from tags and inline markers.
func (d *Detector) explicit(ev *memory.Event, haystack string) []Candidate {
	var declared []string
	for _, tag := range ev.Tags {
		if rest, ok := strings.CutPrefix(tag, explicitTagPrefix); ok && rest != "" {
			declared = append(declared, rest)
		}
	}
	for _, m := range explicitMarker.FindAllStringSubmatch(haystack, -1) {
		declared = append(declared, m[1])
	}

	var out []Candidate
	for _, raw := range declared {
		t := slug(raw)
		if t == "" {
			continue
		}
		c := Candidate{
			Category:        CategoryImplementation,
			Type:            t,
			Name:            displayName(t),
			Confidence:      explicitConfidence,
			DetectionMethod: DetectionUserExplicit,
		}
		if rule, ok := d.known[t]; ok {
			c.Category = rule.category
			c.Name = rule.name
			c.Description = rule.description
		}
		c.Signature = Signature(c.Category, c.Type)
		out = append(out, c)
	}
	return out
}

// matchAll emits one candidate per matching rule.
func matchAll(rules []matchRule, haystack string, method DetectionMethod) []Candidate {
	var out []Candidate
	for _, r := range rules {
		if !r.regex.MatchString(haystack) {
			continue
		}
		out = append(out, Candidate{
			Category:        r.category,
			Type:            r.patternType,
			Name:            r.name,
			Signature:       Signature(r.category, r.patternType),
			Description:     r.description,
			Confidence:      r.confidence,
			DetectionMethod: method,
		})
	}
	return out
}

func dedupe(cands []Candidate) []Candidate {
	seen := make(map[string]struct{}, len(cands))
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if _, ok := seen[c.Signature]; ok {
			continue
		}
		seen[c.Signature] = struct{}{}
		out = append(out, c)
	}
	return out
}

func displayName(t string) string {
	s := strings.ReplaceAll(t, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// architectureRules detects structural styles in architecture memories.
func architectureRules() []matchRule {
	return []matchRule{
		{
			regex:       regexp.MustCompile(`(?i)\bmicro[\s-]?services?\b`),
			category:    CategoryArchitectural,
			patternType: "microservices",
			name:        "Microservices",
			description: "System decomposed into independently deployable services",
			confidence:  0.75,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bevent[\s-]?(?:driven|sourcing|bus)\b`),
			category:    CategoryArchitectural,
			patternType: "event_driven",
			name:        "Event-driven architecture",
			description: "Components communicate through emitted events",
			confidence:  0.7,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bCQRS\b`),
			category:    CategoryArchitectural,
			patternType: "cqrs",
			name:        "CQRS",
			description: "Reads and writes split into separate models",
			confidence:  0.75,
		},
		{
			regex:       regexp.MustCompile(`(?i)\b(?:hexagonal|ports?\s+and\s+adapters?|clean\s+architecture)\b`),
			category:    CategoryArchitectural,
			patternType: "hexagonal",
			name:        "Hexagonal architecture",
			description: "Domain core isolated behind ports and adapters",
			confidence:  0.7,
		},
		{
			regex:       regexp.MustCompile(`(?i)\b(?:layered|n-tier|three-tier)\s+architecture\b`),
			category:    CategoryArchitectural,
			patternType: "layered",
			name:        "Layered architecture",
			description: "Strict layering between presentation, domain and data",
			confidence:  0.65,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bmonolith(?:ic)?\b`),
			category:    CategoryArchitectural,
			patternType: "monolith",
			name:        "Monolith",
			description: "Single deployable unit holding all functionality",
			confidence:  0.65,
		},
		{
			regex:       regexp.MustCompile(`(?i)\b(?:message\s+(?:queue|broker)|pub[/-]?sub)\b`),
			category:    CategoryArchitectural,
			patternType: "message_queue",
			name:        "Message queue integration",
			description: "Asynchronous work handed off through a broker",
			confidence:  0.65,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bapi\s+gateway\b`),
			category:    CategoryArchitectural,
			patternType: "api_gateway",
			name:        "API gateway",
			description: "Single entry point fronting backend services",
			confidence:  0.65,
		},
		{
			regex:       regexp.MustCompile(`(?i)\b(?:serverless|faas|lambda\s+function)\b`),
			category:    CategoryArchitectural,
			patternType: "serverless",
			name:        "Serverless",
			description: "Compute provisioned per invocation by the platform",
			confidence:  0.6,
		},
	}
}

// designRules detects recurring choices in design decision memories.
func designRules() []matchRule {
	return []matchRule{
		{
			regex:       regexp.MustCompile(`(?i)\bdependency\s+injection\b|\bDI\s+container\b`),
			category:    CategoryCreational,
			patternType: "dependency_injection",
			name:        "Dependency injection",
			description: "Dependencies passed in rather than constructed internally",
			confidence:  0.7,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bfactory\s+(?:pattern|method|function)\b`),
			category:    CategoryCreational,
			patternType: "factory",
			name:        "Factory",
			description: "Construction behind a dedicated creator",
			confidence:  0.7,
		},
		{
			regex:       regexp.MustCompile(`(?i)\brepository\s+(?:pattern|layer)\b`),
			category:    CategoryArchitectural,
			patternType: "repository",
			name:        "Repository layer",
			description: "Persistence hidden behind a collection-style interface",
			confidence:  0.7,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bbuilder\s+pattern\b`),
			category:    CategoryCreational,
			patternType: "builder",
			name:        "Builder",
			description: "Stepwise construction of complex values",
			confidence:  0.65,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bsingleton\b`),
			category:    CategoryCreational,
			patternType: "singleton",
			name:        "Singleton",
			description: "Single shared instance per process",
			confidence:  0.6,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bstrategy\s+pattern\b`),
			category:    CategoryImplementation,
			patternType: "strategy",
			name:        "Strategy",
			description: "Interchangeable behavior selected at runtime",
			confidence:  0.65,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bREST(?:ful)?\s+(?:API|endpoint|design|interface)\b`),
			category:    CategoryAPI,
			patternType: "rest_api",
			name:        "REST API",
			description: "Resource-oriented HTTP interface",
			confidence:  0.7,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bgRPC\b`),
			category:    CategoryAPI,
			patternType: "grpc_api",
			name:        "gRPC API",
			description: "Typed RPC interface over protocol buffers",
			confidence:  0.7,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bAPI\s+version(?:ing)?\b`),
			category:    CategoryAPI,
			patternType: "versioned_api",
			name:        "API versioning",
			description: "Breaking changes isolated behind explicit versions",
			confidence:  0.65,
		},
	}
}

// codeRules detects implementation techniques in code memories.
func codeRules() []matchRule {
	return []matchRule{
		{
			regex:       regexp.MustCompile(`(?i)\bexponential\s+backoff\b|\bretr(?:y|ies)\b.{0,40}\bbackoff\b`),
			category:    CategoryImplementation,
			patternType: "retry_backoff",
			name:        "Retry with backoff",
			description: "Failed operations retried with growing delays",
			confidence:  0.7,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bworker\s+pool\b|\bgoroutine\s+pool\b`),
			category:    CategoryImplementation,
			patternType: "worker_pool",
			name:        "Worker pool",
			description: "Bounded concurrency through a fixed set of workers",
			confidence:  0.7,
		},
		{
			regex:       regexp.MustCompile(`(?i)\brate\s+limit(?:ing|er)?\b`),
			category:    CategoryImplementation,
			patternType: "rate_limiting",
			name:        "Rate limiting",
			description: "Request rate capped to protect downstreams",
			confidence:  0.7,
		},
		{
			regex:       regexp.MustCompile(`(?i)\berror\s+(?:handling|wrapping)\b|\bsentinel\s+errors?\b`),
			category:    CategoryImplementation,
			patternType: "error_handling",
			name:        "Structured error handling",
			description: "Errors wrapped and matched against sentinels",
			confidence:  0.65,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bcach(?:e|ing)\s+(?:layer|strategy|invalidation|aside)\b`),
			category:    CategoryImplementation,
			patternType: "caching",
			name:        "Caching",
			description: "Hot data served from a faster intermediate store",
			confidence:  0.65,
		},
		{
			regex:       regexp.MustCompile(`(?i)\binput\s+validation\b|\bvalidat(?:e|ing)\s+(?:input|request)s?\b`),
			category:    CategorySecurity,
			patternType: "input_validation",
			name:        "Input validation",
			description: "External input checked before use",
			confidence:  0.65,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bmiddleware\s+(?:chain|stack)\b`),
			category:    CategoryImplementation,
			patternType: "middleware",
			name:        "Middleware chain",
			description: "Cross-cutting concerns layered around handlers",
			confidence:  0.65,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bpaginat(?:ion|ed)\b|\bcursor[\s-]based\b`),
			category:    CategoryAPI,
			patternType: "pagination",
			name:        "Pagination",
			description: "Large result sets returned in bounded pages",
			confidence:  0.6,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bbatch(?:ed|ing)?\s+(?:processing|writes|inserts|updates)\b`),
			category:    CategoryImplementation,
			patternType: "batch_processing",
			name:        "Batch processing",
			description: "Work grouped into batches to amortize overhead",
			confidence:  0.6,
		},
	}
}

// technologyRules detects tooling adoption in tech context memories.
func technologyRules() []matchRule {
	techs := []struct {
		pattern string
		typ     string
		name    string
	}{
		{`(?i)\bdocker\b`, "docker", "Docker"},
		{`(?i)\b(?:kubernetes|k8s)\b`, "kubernetes", "Kubernetes"},
		{`(?i)\bpostgres(?:ql)?\b`, "postgres", "PostgreSQL"},
		{`(?i)\bredis\b`, "redis", "Redis"},
		{`(?i)\bkafka\b`, "kafka", "Kafka"},
		{`(?i)\bNATS\b`, "nats", "NATS"},
		{`(?i)\bsqlite\b`, "sqlite", "SQLite"},
		{`(?i)\bgraphql\b`, "graphql", "GraphQL"},
		{`(?i)\btypescript\b`, "typescript", "TypeScript"},
		{`(?i)\bterraform\b`, "terraform", "Terraform"},
		{`(?i)\bprometheus\b`, "prometheus", "Prometheus"},
	}
	rules := make([]matchRule, 0, len(techs))
	for _, t := range techs {
		rules = append(rules, matchRule{
			regex:       regexp.MustCompile(t.pattern),
			category:    CategoryTechnology,
			patternType: t.typ,
			name:        t.name,
			description: t.name + " in use",
			confidence:  0.65,
		})
	}
	return rules
}

// bugRules maps recurring defects in bug memories to anti-patterns.
func bugRules() []matchRule {
	return []matchRule{
		{
			regex:       regexp.MustCompile(`(?i)\bgod\s+(?:object|class|struct)\b`),
			category:    CategoryAntiPattern,
			patternType: "god_object",
			name:        "God object",
			description: "One type accumulating too many responsibilities",
			confidence:  0.7,
		},
		{
			regex:       regexp.MustCompile(`(?i)\b(?:race\s+condition|data\s+race)\b`),
			category:    CategoryAntiPattern,
			patternType: "race_condition",
			name:        "Race condition",
			description: "Unsynchronized access to shared state",
			confidence:  0.7,
		},
		{
			regex:       regexp.MustCompile(`(?i)\b(?:memory|goroutine|connection)\s+leak\b`),
			category:    CategoryAntiPattern,
			patternType: "resource_leak",
			name:        "Resource leak",
			description: "Resources acquired but never released",
			confidence:  0.7,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bn\s*\+\s*1\s+quer(?:y|ies)\b`),
			category:    CategoryAntiPattern,
			patternType: "n_plus_one",
			name:        "N+1 queries",
			description: "Per-row queries issued inside a loop",
			confidence:  0.7,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bhard[\s-]?coded?\s+(?:config|credential|secret|value|path|url)s?\b`),
			category:    CategoryAntiPattern,
			patternType: "hardcoded_config",
			name:        "Hardcoded configuration",
			description: "Environment-specific values baked into code",
			confidence:  0.65,
		},
		{
			regex:       regexp.MustCompile(`(?i)\b(?:missing|no|skipped)\s+(?:input\s+)?validation\b`),
			category:    CategoryAntiPattern,
			patternType: "missing_validation",
			name:        "Missing validation",
			description: "External input trusted without checks",
			confidence:  0.65,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bcircular\s+(?:dependenc|import)`),
			category:    CategoryAntiPattern,
			patternType: "circular_dependency",
			name:        "Circular dependency",
			description: "Modules depending on each other in a cycle",
			confidence:  0.65,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bshared\s+mutable\s+state\b|\bglobal\s+(?:mutable\s+)?state\b`),
			category:    CategoryAntiPattern,
			patternType: "shared_mutable_state",
			name:        "Shared mutable state",
			description: "Mutable globals reachable from many components",
			confidence:  0.6,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bspaghetti\s+code\b`),
			category:    CategoryAntiPattern,
			patternType: "spaghetti_code",
			name:        "Spaghetti code",
			description: "Control flow too tangled to follow",
			confidence:  0.6,
		},
	}
}

// lessonRules detects process habits in lessons learned memories.
func lessonRules() []matchRule {
	return []matchRule{
		{
			regex:       regexp.MustCompile(`(?i)\bcode\s+review\b`),
			category:    CategoryProcess,
			patternType: "code_review",
			name:        "Code review",
			description: "Changes reviewed before merging",
			confidence:  0.6,
		},
		{
			regex:       regexp.MustCompile(`(?i)\b(?:test[\s-]?first|TDD|test[\s-]driven)\b`),
			category:    CategoryTesting,
			patternType: "tdd",
			name:        "Test-first development",
			description: "Tests written before the implementation",
			confidence:  0.65,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bincremental(?:ly)?\s+(?:refactor|rollout|migration)`),
			category:    CategoryProcess,
			patternType: "incremental_change",
			name:        "Incremental change",
			description: "Large changes landed in small reviewable steps",
			confidence:  0.6,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bpair\s+programming\b`),
			category:    CategoryProcess,
			patternType: "pair_programming",
			name:        "Pair programming",
			description: "Two developers working one change together",
			confidence:  0.6,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bfeature\s+flags?\b`),
			category:    CategoryProcess,
			patternType: "feature_flags",
			name:        "Feature flags",
			description: "Unfinished work shipped dark behind toggles",
			confidence:  0.6,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bsmall(?:er)?\s+(?:PRs?|pull\s+requests?|commits?)\b`),
			category:    CategoryProcess,
			patternType: "small_changes",
			name:        "Small pull requests",
			description: "Review load kept down with small diffs",
			confidence:  0.55,
		},
	}
}

// TechMention is one normalized technology found in free text.
type TechMention struct {
	// Type is the normalized grouping key, e.g. "postgres".
	Type string
	// Name is the display name, e.g. "PostgreSQL".
	Name string
}

// TechnologyMentions returns the technologies mentioned in the given text,
// each at most once, in rule order. Used by preference analysis over
// memories of any type, so it scans the technology table directly.
func TechnologyMentions(text string) []TechMention {
	if len(text) > maxMatchLength {
		text = text[:maxMatchLength]
	}
	var out []TechMention
	for _, r := range techTable {
		if r.regex.MatchString(text) {
			out = append(out, TechMention{Type: r.patternType, Name: r.name})
		}
	}
	return out
}

// techTable is shared by the tech-context matcher and TechnologyMentions.
var techTable = technologyRules()

// keywordRules is the generic fallback for memories whose typed table
// produced nothing. Lower confidence than any typed rule.
func keywordRules() []matchRule {
	return []matchRule{
		{
			regex:       regexp.MustCompile(`(?i)\b(?:unit|integration|e2e|end-to-end)\s+test`),
			category:    CategoryTesting,
			patternType: "coverage",
			name:        "Test coverage",
			description: "Behavior pinned down by automated tests",
			confidence:  0.45,
		},
		{
			regex:       regexp.MustCompile(`(?i)\b(?:oauth|jwt|tls|mtls|encryption|api\s+keys?)\b`),
			category:    CategorySecurity,
			patternType: "auth_controls",
			name:        "Authentication controls",
			description: "Access gated by credentials or tokens",
			confidence:  0.45,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bCI/?CD\b|\bcontinuous\s+(?:integration|deployment|delivery)\b`),
			category:    CategoryProcess,
			patternType: "ci_cd",
			name:        "CI/CD",
			description: "Builds and deploys run from a pipeline",
			confidence:  0.45,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bmicroservices?\b`),
			category:    CategoryArchitectural,
			patternType: "microservices",
			name:        "Microservices",
			description: "System decomposed into independently deployable services",
			confidence:  0.4,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bstructured\s+logging\b|\blog\s+levels?\b`),
			category:    CategoryImplementation,
			patternType: "structured_logging",
			name:        "Structured logging",
			description: "Log output as typed fields instead of text",
			confidence:  0.4,
		},
		{
			regex:       regexp.MustCompile(`(?i)\b(?:metrics|monitoring|observability|tracing)\b`),
			category:    CategoryImplementation,
			patternType: "monitoring",
			name:        "Monitoring",
			description: "Runtime behavior exposed through telemetry",
			confidence:  0.4,
		},
		{
			regex:       regexp.MustCompile(`(?i)\bcach(?:e|ing)\b`),
			category:    CategoryImplementation,
			patternType: "caching",
			name:        "Caching",
			description: "Hot data served from a faster intermediate store",
			confidence:  0.4,
		},
	}
}
