// Package fortune はおみくじの抽選を提供する。
// 生成ロジック自体はアクセス制御層の関心事ではないため、最小限の実装に留める。
package fortune

import (
	"math/rand"
	"sync"
	"time"
)

// Result は1回の抽選結果を表す。
type Result struct {
	Rank    string `json:"rank"`
	Message string `json:"message"`
	DrawnAt string `json:"drawnAt"`
}

// Source はおみくじ抽選のインターフェース。
type Source interface {
	Draw() Result
}

// ranks は出現率の高い順に並べた運勢。
var ranks = []struct {
	rank    string
	message string
}{
	{"大吉", "願いごとは思いのままに。新しい挑戦に最良の日。"},
	{"吉", "穏やかな一日。続けてきたことが実を結びはじめる。"},
	{"中吉", "焦らなければ良い流れ。人との縁を大切に。"},
	{"小吉", "小さな幸運が重なる日。足元を確かめて進むこと。"},
	{"末吉", "今は準備のとき。急がば回れ。"},
	{"凶", "無理は禁物。今日は守りを固めるが吉。"},
}

// RandomSource は乱数による抽選実装。
type RandomSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSource はRandomSourceを生成する。
func NewRandomSource() *RandomSource {
	return &RandomSource{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Draw は運勢を1つ抽選する。
func (s *RandomSource) Draw() Result {
	s.mu.Lock()
	i := s.rng.Intn(len(ranks))
	s.mu.Unlock()

	return Result{
		Rank:    ranks[i].rank,
		Message: ranks[i].message,
		DrawnAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// compile-time interface check
var _ Source = (*RandomSource)(nil)
