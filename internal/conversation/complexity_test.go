package conversation

import "testing"

func TestScoreComplexity_SimpleKeywordsLowerScore(t *testing.T) {
	score := ScoreComplexity("just do a quick fix for the typo")
	if score > 3 {
		t.Fatalf("score = %d, want <= 3 for simple/skip keywords", score)
	}
	if DepthForScore(score) != DepthNone {
		t.Fatalf("depth = %v, want none", DepthForScore(score))
	}
}

func TestScoreComplexity_ComplexKeywordsRaiseScore(t *testing.T) {
	score := ScoreComplexity("redesign the system architecture for the payment api integration")
	if score < 7 {
		t.Fatalf("score = %d, want >= 7 for complex/scope/technical keywords", score)
	}
	if DepthForScore(score) != DepthFull {
		t.Fatalf("depth = %v, want full", DepthForScore(score))
	}
}

func TestScoreComplexity_ClampedToRange(t *testing.T) {
	score := ScoreComplexity("fix typo quick no questions just do it")
	if score < 1 || score > 10 {
		t.Fatalf("score = %d, out of [1,10]", score)
	}
}
