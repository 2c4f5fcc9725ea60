package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_Domains(t *testing.T) {
	t.Parallel()
	cases := []struct {
		request string
		domain  Domain
	}{
		{"The kubernetes cluster keeps restarting pods", DomainInfrastructure},
		{"Rotate the expired certificate and audit permissions", DomainSecurity},
		{"Why is this sql query scanning the whole table?", DomainData},
		{"Send a slack notification when the job finishes", DomainCommunication},
		{"Draft a roadmap with milestones for Q2", DomainPlanning},
		{"Tell me a joke", DomainGeneral},
	}
	for _, tc := range cases {
		got := Classify(tc.request)
		assert.Equal(t, tc.domain, got.Domain, "request: %s", tc.request)
	}
}

func TestClassify_Categories(t *testing.T) {
	t.Parallel()
	assert.Equal(t, CategoryTroubleshooting, Classify("the deploy keeps failing with a timeout error").Category)
	assert.Equal(t, CategoryAnalysis, Classify("analyze the latency trend across regions").Category)
	assert.Equal(t, CategoryQuestion, Classify("what does this setting do?").Category)
	assert.Equal(t, CategoryTask, Classify("create a backup of the volume").Category)
}

func TestClassify_ComplexityBounds(t *testing.T) {
	t.Parallel()
	low := Classify("restart the server")
	assert.GreaterOrEqual(t, low.Complexity, 1)
	assert.LessOrEqual(t, low.Complexity, 10)

	long := Classify("Investigate the database replication lag and then audit the firewall rules, " +
		"analyze the etl pipeline throughput as well as the kubernetes node memory pressure; " +
		"after that notify the team by email and draft a remediation plan with a timeline for the sprint")
	assert.Greater(t, long.Complexity, low.Complexity)
	assert.LessOrEqual(t, long.Complexity, 10)
}

func TestClassify_ConfidenceSingleDomain(t *testing.T) {
	t.Parallel()
	cls := Classify("the dns server on the host cluster needs a restart")
	assert.Equal(t, DomainInfrastructure, cls.Domain)
	assert.Equal(t, 1.0, cls.Confidence)
}

func TestSelectStrategy(t *testing.T) {
	t.Parallel()
	simple := Classification{Domain: DomainInfrastructure, Complexity: 2, Confidence: 0.9}
	assert.Equal(t, StrategySingleAgent, SelectStrategy(simple, false))

	ambiguous := Classification{Domain: DomainGeneral, Complexity: 7, Confidence: 0.3}
	assert.Equal(t, StrategySwarm, SelectStrategy(ambiguous, false))

	// A declared workflow always wins.
	assert.Equal(t, StrategyChain, SelectStrategy(simple, true))
}
