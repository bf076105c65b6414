package insight

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/learnd/internal/memory"
	"github.com/fyrsmithlabs/learnd/internal/pattern"
)

// monthKey buckets a timestamp by UTC calendar month.
func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// bestPractices flags patterns that have proven themselves: high confidence,
// repeatedly seen, and adopted by more than one project. Anti-patterns are
// excluded no matter how consistently they recur.
func bestPractices(patterns []*pattern.Pattern, cfg Config) []Insight {
	var out []Insight
	for _, p := range patterns {
		if p.Category == pattern.CategoryAntiPattern {
			continue
		}
		if p.ConfidenceScore < cfg.BestPracticeConfidence ||
			p.FrequencyCount < cfg.BestPracticeFrequency ||
			len(p.ProjectsSeen) < cfg.BestPracticeProjects {
			continue
		}
		desc := fmt.Sprintf("%s has held up across %d projects over %d observations.",
			p.Name, len(p.ProjectsSeen), p.FrequencyCount)
		if p.Description != "" {
			desc += " " + p.Description + "."
		}
		out = append(out, Insight{
			Type:               TypeBestPractice,
			Category:           p.Category,
			Title:              "Best practice: " + p.Name,
			Description:        desc,
			ConfidenceLevel:    p.ConfidenceScore,
			EvidenceStrength:   p.FrequencyCount,
			ProjectsInvolved:   append([]string(nil), p.ProjectsSeen...),
			SupportingPatterns: []string{p.ID},
			Actionable:         true,
			Priority:           PriorityMedium,
			Metadata:           map[string]any{"signature": p.Signature},
		})
	}
	return out
}

// bugCorrelations flags patterns whose occurrences cluster with bug
// memories: at least cfg.AntiPatternBugCount distinct bugs in the same
// project, each within the correlation window of some occurrence.
func bugCorrelations(patterns []*pattern.Pattern, occs []*pattern.Occurrence, bugs []memory.Event, cfg Config) []Insight {
	byID := make(map[string]*pattern.Pattern, len(patterns))
	for _, p := range patterns {
		byID[p.ID] = p
	}
	bugsByProject := make(map[string][]memory.Event)
	for _, b := range bugs {
		bugsByProject[b.ProjectID] = append(bugsByProject[b.ProjectID], b)
	}

	// pattern id -> project -> distinct correlated bug ids
	correlated := make(map[string]map[string]map[string]struct{})
	for _, occ := range occs {
		if occ.ProjectID == "" {
			continue
		}
		for _, b := range bugsByProject[occ.ProjectID] {
			delta := b.CreatedAt.Sub(occ.OccurredAt)
			if delta < 0 {
				delta = -delta
			}
			if delta > cfg.AntiPatternWindow {
				continue
			}
			if correlated[occ.PatternID] == nil {
				correlated[occ.PatternID] = make(map[string]map[string]struct{})
			}
			if correlated[occ.PatternID][occ.ProjectID] == nil {
				correlated[occ.PatternID][occ.ProjectID] = make(map[string]struct{})
			}
			correlated[occ.PatternID][occ.ProjectID][b.ID] = struct{}{}
		}
	}

	patternIDs := make([]string, 0, len(correlated))
	for id := range correlated {
		patternIDs = append(patternIDs, id)
	}
	sort.Strings(patternIDs)

	var out []Insight
	for _, id := range patternIDs {
		p, ok := byID[id]
		if !ok {
			continue
		}
		var projects []string
		total := 0
		for project, bugIDs := range correlated[id] {
			if len(bugIDs) >= cfg.AntiPatternBugCount {
				projects = append(projects, project)
				total += len(bugIDs)
			}
		}
		if len(projects) == 0 {
			continue
		}
		sort.Strings(projects)
		out = append(out, Insight{
			Type:     TypeAntiPattern,
			Category: p.Category,
			Title:    "Bug correlation: " + p.Name,
			Description: fmt.Sprintf("%d bug reports landed within %d days of %s occurrences in %s.",
				total, int(cfg.AntiPatternWindow.Hours()/24), p.Name, strings.Join(projects, ", ")),
			ConfidenceLevel:    min(1.0, 0.5+0.1*float64(total)),
			EvidenceStrength:   total,
			ProjectsInvolved:   projects,
			SupportingPatterns: []string{p.ID},
			Actionable:         true,
			Priority:           PriorityHigh,
			Metadata:           map[string]any{"signature": p.Signature, "bug_count": total},
		})
	}
	return out
}

// technologyPreferences counts normalized technology mentions across recent
// tech, architecture and design memories.
func technologyPreferences(events []memory.Event, patterns []*pattern.Pattern, cfg Config) []Insight {
	bySignature := make(map[string]*pattern.Pattern, len(patterns))
	for _, p := range patterns {
		bySignature[p.Signature] = p
	}

	type techStat struct {
		name     string
		mentions int
		projects map[string]struct{}
	}
	stats := make(map[string]*techStat)
	for _, ev := range events {
		for _, m := range pattern.TechnologyMentions(ev.Content) {
			st := stats[m.Type]
			if st == nil {
				st = &techStat{name: m.Name, projects: make(map[string]struct{})}
				stats[m.Type] = st
			}
			st.mentions++
			if ev.ProjectID != "" {
				st.projects[ev.ProjectID] = struct{}{}
			}
		}
	}

	techs := make([]string, 0, len(stats))
	for t := range stats {
		techs = append(techs, t)
	}
	sort.Strings(techs)

	var out []Insight
	for _, t := range techs {
		st := stats[t]
		if st.mentions < cfg.TechPreferenceMinMentions {
			continue
		}
		projects := make([]string, 0, len(st.projects))
		for p := range st.projects {
			projects = append(projects, p)
		}
		sort.Strings(projects)

		var supporting []string
		if p, ok := bySignature[pattern.Signature(pattern.CategoryTechnology, t)]; ok {
			supporting = []string{p.ID}
		}
		out = append(out, Insight{
			Type:     TypeTechnologyPreference,
			Category: pattern.CategoryTechnology,
			Title:    "Technology preference: " + st.name,
			Description: fmt.Sprintf("%s came up in %d recent memories across %d projects.",
				st.name, st.mentions, len(projects)),
			ConfidenceLevel:    min(1.0, 0.4+0.1*float64(st.mentions)),
			EvidenceStrength:   st.mentions,
			ProjectsInvolved:   projects,
			SupportingPatterns: supporting,
			Actionable:         false,
			Priority:           PriorityLow,
			Metadata:           map[string]any{"technology": t, "mentions": st.mentions},
		})
	}
	return out
}

// evolutionTrends compares each pattern's occurrence count in its first
// active month against the current month. The emitted insight is advisory;
// the pattern row itself is never decayed.
func evolutionTrends(patterns []*pattern.Pattern, occs []*pattern.Occurrence, now time.Time, cfg Config) []Insight {
	months := make(map[string]map[string]int) // pattern id -> month -> count
	totals := make(map[string]int)
	for _, occ := range occs {
		if months[occ.PatternID] == nil {
			months[occ.PatternID] = make(map[string]int)
		}
		months[occ.PatternID][monthKey(occ.OccurredAt)]++
		totals[occ.PatternID]++
	}
	currentMonth := monthKey(now)

	var out []Insight
	for _, p := range patterns {
		buckets := months[p.ID]
		if len(buckets) == 0 {
			continue
		}
		first := ""
		for month := range buckets {
			if first == "" || month < first {
				first = month
			}
		}
		if first == currentMonth {
			continue
		}
		firstCount := buckets[first]
		latestCount := buckets[currentMonth]
		ratio := float64(latestCount) / float64(firstCount)

		var trend, title string
		switch {
		case ratio >= cfg.EvolutionGrowthFactor:
			trend = "growing"
			title = "Growing pattern: " + p.Name
		case ratio <= cfg.EvolutionDeclineFactor:
			trend = "declining"
			title = "Declining pattern: " + p.Name
		default:
			continue
		}
		out = append(out, Insight{
			Type:     TypeEvolution,
			Category: p.Category,
			Title:    title,
			Description: fmt.Sprintf("%s went from %d occurrences in %s to %d in %s.",
				p.Name, firstCount, first, latestCount, currentMonth),
			ConfidenceLevel:    0.6,
			EvidenceStrength:   totals[p.ID],
			ProjectsInvolved:   append([]string(nil), p.ProjectsSeen...),
			SupportingPatterns: []string{p.ID},
			Actionable:         false,
			Priority:           PriorityLow,
			Metadata: map[string]any{
				"signature":    p.Signature,
				"trend":        trend,
				"first_month":  first,
				"first_count":  firstCount,
				"latest_month": currentMonth,
				"latest_count": latestCount,
			},
		})
	}
	return out
}

// teamPatterns flags memory types that dominate recent activity.
func teamPatterns(counts map[string]map[string]int, cfg Config) []Insight {
	totalsByType := make(map[string]int)
	projectsByType := make(map[string][]string)
	grand := 0
	projects := make([]string, 0, len(counts))
	for project := range counts {
		projects = append(projects, project)
	}
	sort.Strings(projects)
	for _, project := range projects {
		for memoryType, n := range counts[project] {
			totalsByType[memoryType] += n
			grand += n
			if project != "" {
				projectsByType[memoryType] = append(projectsByType[memoryType], project)
			}
		}
	}
	if grand == 0 {
		return nil
	}

	types := make([]string, 0, len(totalsByType))
	for t := range totalsByType {
		types = append(types, t)
	}
	sort.Strings(types)

	var out []Insight
	for _, memoryType := range types {
		n := totalsByType[memoryType]
		share := float64(n) / float64(grand)
		if share <= cfg.TeamPatternShare {
			continue
		}
		out = append(out, Insight{
			Type:     TypeTeamPattern,
			Category: pattern.CategoryProcess,
			Title:    "Team focus: " + memoryType,
			Description: fmt.Sprintf("%s memories are %.0f%% of everything recorded in the last %d days.",
				memoryType, share*100, int(cfg.TeamPatternWindow.Hours()/24)),
			ConfidenceLevel:  min(1.0, share),
			EvidenceStrength: n,
			ProjectsInvolved: projectsByType[memoryType],
			Actionable:       false,
			Priority:         PriorityLow,
			Metadata:         map[string]any{"memory_type": memoryType, "share": share},
		})
	}
	return out
}

// qualityMetrics computes per-project bug and lessons-learned ratios. A high
// bug ratio is actionable; a healthy lessons ratio is recognition only.
func qualityMetrics(counts map[string]map[string]int, cfg Config) []Insight {
	projects := make([]string, 0, len(counts))
	for project := range counts {
		if project != "" {
			projects = append(projects, project)
		}
	}
	sort.Strings(projects)

	windowDays := int(cfg.QualityWindow.Hours() / 24)
	var out []Insight
	for _, project := range projects {
		total := 0
		for _, n := range counts[project] {
			total += n
		}
		if total == 0 {
			continue
		}
		bugs := counts[project][memory.TypeBug]
		lessons := counts[project][memory.TypeLessonsLearned]

		if ratio := float64(bugs) / float64(total); ratio > cfg.QualityBugRatio {
			out = append(out, Insight{
				Type:     TypeQualityMetric,
				Category: "quality",
				Title:    "High bug rate: " + project,
				Description: fmt.Sprintf("%d of %d memories in %s over the last %d days are bugs (%.0f%%).",
					bugs, total, project, windowDays, ratio*100),
				ConfidenceLevel:  min(1.0, ratio+0.5),
				EvidenceStrength: bugs,
				ProjectsInvolved: []string{project},
				Actionable:       true,
				Priority:         PriorityHigh,
				Metadata:         map[string]any{"ratio": ratio, "total": total, "bugs": bugs},
			})
		}
		if ratio := float64(lessons) / float64(total); ratio > cfg.QualityLessonsRatio && lessons > 0 {
			out = append(out, Insight{
				Type:     TypeQualityMetric,
				Category: "quality",
				Title:    "Learning culture: " + project,
				Description: fmt.Sprintf("%s wrote down %d lessons in the last %d days (%.0f%% of its memories).",
					project, lessons, windowDays, ratio*100),
				ConfidenceLevel:  min(1.0, ratio+0.5),
				EvidenceStrength: lessons,
				ProjectsInvolved: []string{project},
				Actionable:       false,
				Priority:         PriorityLow,
				Metadata:         map[string]any{"ratio": ratio, "total": total, "lessons": lessons},
			})
		}
	}
	return out
}
