// Package coordinator fronts the engine: it classifies incoming requests,
// chooses a routing strategy, owns session state and drives swarm handoff
// loops.
package coordinator

import (
	"strings"
)

// Domain is the request's subject area.
type Domain string

const (
	DomainInfrastructure Domain = "infrastructure"
	DomainSecurity       Domain = "security"
	DomainData           Domain = "data"
	DomainCommunication  Domain = "communication"
	DomainPlanning       Domain = "planning"
	DomainGeneral        Domain = "general"
)

// Category is the request's intent shape.
type Category string

const (
	CategoryQuestion        Category = "question"
	CategoryTask            Category = "task"
	CategoryAnalysis        Category = "analysis"
	CategoryTroubleshooting Category = "troubleshooting"
)

// Classification is the coordinator's reading of a request.
type Classification struct {
	Domain     Domain   `json:"domain"`
	Category   Category `json:"category"`
	Complexity int      `json:"complexity"`
	Confidence float64  `json:"confidence"`
}

var domainKeywords = map[Domain][]string{
	DomainInfrastructure: {"server", "deploy", "deployment", "kubernetes", "container", "network", "dns", "load balancer", "disk", "cpu", "memory", "host", "cluster", "restart"},
	DomainSecurity:       {"security", "vulnerability", "cve", "exploit", "auth", "permission", "credential", "certificate", "firewall", "breach", "audit"},
	DomainData:           {"database", "query", "sql", "table", "schema", "etl", "pipeline", "dataset", "backup", "replication", "index"},
	DomainCommunication:  {"email", "notify", "notification", "slack", "message", "announce", "report to", "escalate"},
	DomainPlanning:       {"plan", "roadmap", "schedule", "milestone", "estimate", "prioritize", "sprint", "timeline"},
}

var categoryKeywords = map[Category][]string{
	CategoryTroubleshooting: {"error", "fail", "failing", "broken", "crash", "debug", "not working", "timeout", "slow", "outage", "investigate"},
	CategoryAnalysis:        {"analyze", "analysis", "compare", "evaluate", "assess", "review", "summarize", "trend"},
	CategoryQuestion:        {"what", "why", "how", "when", "where", "which", "?"},
	CategoryTask:            {"create", "build", "write", "set up", "configure", "install", "update", "delete", "run", "execute", "migrate"},
}

// Classify scores a request against the fixed domain and category
// taxonomies. Confidence reflects how clearly one domain dominates;
// complexity grows with length, multi-domain spread and conjunctions.
func Classify(request string) Classification {
	text := strings.ToLower(request)

	scores := make(map[Domain]int, len(domainKeywords))
	total := 0
	for domain, words := range domainKeywords {
		for _, w := range words {
			if strings.Contains(text, w) {
				scores[domain]++
				total++
			}
		}
	}

	best := DomainGeneral
	bestScore := 0
	for _, domain := range []Domain{DomainInfrastructure, DomainSecurity, DomainData, DomainCommunication, DomainPlanning} {
		if scores[domain] > bestScore {
			best = domain
			bestScore = scores[domain]
		}
	}

	confidence := 0.3
	if total > 0 {
		confidence = float64(bestScore) / float64(total)
	}

	return Classification{
		Domain:     best,
		Category:   classifyCategory(text),
		Complexity: complexityOf(text, scores),
		Confidence: confidence,
	}
}

func classifyCategory(text string) Category {
	bestCat := CategoryTask
	bestScore := 0
	// Fixed order keeps ties deterministic.
	for _, cat := range []Category{CategoryTroubleshooting, CategoryAnalysis, CategoryQuestion, CategoryTask} {
		score := 0
		for _, w := range categoryKeywords[cat] {
			if strings.Contains(text, w) {
				score++
			}
		}
		if score > bestScore {
			bestCat = cat
			bestScore = score
		}
	}
	return bestCat
}

// complexityOf maps a request onto the 1..10 scale.
func complexityOf(text string, scores map[Domain]int) int {
	c := 1

	words := len(strings.Fields(text))
	switch {
	case words > 100:
		c += 4
	case words > 40:
		c += 3
	case words > 15:
		c += 2
	case words > 5:
		c++
	}

	domainsHit := 0
	for _, s := range scores {
		if s > 0 {
			domainsHit++
		}
	}
	if domainsHit > 1 {
		c += domainsHit
	}

	for _, conj := range []string{" and then ", " after that ", "; ", " as well as "} {
		if strings.Contains(text, conj) {
			c++
		}
	}

	if c > 10 {
		c = 10
	}
	return c
}

// RouteStrategy is how a request is executed.
type RouteStrategy string

const (
	// StrategySingleAgent dispatches directly to one agent.
	StrategySingleAgent RouteStrategy = "single_agent"
	// StrategySwarm lets agents hand control to each other dynamically.
	StrategySwarm RouteStrategy = "swarm"
	// StrategyChain executes a pre-declared workflow.
	StrategyChain RouteStrategy = "chain"
)

// SelectStrategy picks a route for the classification. A declared workflow
// always routes to the chain executor; a simple request with one clear
// domain goes straight to a single agent; everything ambiguous becomes a
// swarm. The choice is advisory and overridable by the caller.
func SelectStrategy(cls Classification, hasWorkflow bool) RouteStrategy {
	if hasWorkflow {
		return StrategyChain
	}
	if cls.Complexity <= 3 && cls.Confidence >= 0.6 {
		return StrategySingleAgent
	}
	return StrategySwarm
}
