package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
	"github.com/DanielMax937/round-table-sub000/internal/infra/tracer"
)

const defaultScoreMax = 10

// Voter collects ballots from a panel of voting agents, one non-streaming
// model call per voter.
type Voter struct {
	llm      domain.LLMProvider
	model    string
	scoreMax int
	logger   *slog.Logger
}

func NewVoter(llm domain.LLMProvider, model string, scoreMax int, logger *slog.Logger) *Voter {
	if scoreMax <= 0 {
		scoreMax = defaultScoreMax
	}
	return &Voter{llm: llm, model: model, scoreMax: scoreMax, logger: logger}
}

type ballotReply struct {
	Scores    map[string]float64 `json:"scores"`
	Decision  string             `json:"decision"`
	Reasoning string             `json:"reasoning"`
}

// CollectBallots asks every voter for a ballot. Voters whose call fails or
// whose reply cannot be parsed are skipped.
func (v *Voter) CollectBallots(ctx context.Context, rt *domain.RoundTable, voters []domain.Agent, transcript []domain.Message, question string) []domain.Ballot {
	ctx, span := tracer.StartSpan(ctx, "job.collect_ballots")
	defer span.End()

	prompt := v.ballotPrompt(rt, transcript, question)
	ballots := make([]domain.Ballot, 0, len(voters))
	for i, voter := range voters {
		if voter.ID == "" {
			voter.ID = fmt.Sprintf("voter-%d", i+1)
		}
		resp, err := v.llm.Chat(ctx, domain.ChatRequest{
			Model: v.model,
			Messages: []domain.ChatMessage{
				{Role: domain.RoleSystem, Content: voterSystemPrompt(voter)},
				{Role: domain.RoleUser, Content: prompt},
			},
		})
		if err != nil {
			v.logger.Warn("ballot request failed", "round_table_id", rt.ID, "voter", voter.Name, "error", err)
			continue
		}
		ballot, err := v.parseBallot(resp.Message.Content, rt.Agents)
		if err != nil {
			v.logger.Warn("malformed ballot skipped", "round_table_id", rt.ID, "voter", voter.Name, "error", err)
			continue
		}
		ballot.VoterID = voter.ID
		ballot.VoterName = voter.Name
		ballots = append(ballots, ballot)
	}
	span.SetAttributes(tracer.IntAttr("vote.ballots", len(ballots)))
	tracer.SetOK(span)
	return ballots
}

func voterSystemPrompt(voter domain.Agent) string {
	persona := strings.TrimSpace(voter.Persona)
	if persona == "" {
		persona = "You are an impartial judge."
	}
	return persona + "\n\nYou are " + voter.Name + ", a judge on a voting panel. You do not take part in the discussion; you evaluate it."
}

func (v *Voter) ballotPrompt(rt *domain.RoundTable, transcript []domain.Message, question string) string {
	if strings.TrimSpace(question) == "" {
		question = "Should the panel endorse the position that emerged on: " + rt.Topic + "?"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Discussion topic: %s\n\nParticipants:\n", rt.Topic)
	for _, a := range rt.Agents {
		fmt.Fprintf(&b, "- %s (id: %s)\n", a.Name, a.ID)
	}
	b.WriteString("\nTranscript:\n")
	for _, m := range transcript {
		fmt.Fprintf(&b, "[Round %d] %s: %s\n\n", m.RoundNumber, m.AgentName, m.Content)
	}
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	fmt.Fprintf(&b, "Score every participant from 0 to %d on the strength of their arguments and answer the question yes or no.\n", v.scoreMax)
	b.WriteString(`Reply with JSON only, in the form {"scores":{"<participant id>":<score>},"decision":"yes|no","reasoning":"<one paragraph>"}`)
	return b.String()
}

// parseBallot extracts the JSON object from reply. Scores for unknown
// participants are dropped and the rest clamped to [0, scoreMax].
func (v *Voter) parseBallot(reply string, participants []domain.Agent) (domain.Ballot, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return domain.Ballot{}, fmt.Errorf("no JSON object in reply")
	}

	var r ballotReply
	if err := json.Unmarshal([]byte(reply[start:end+1]), &r); err != nil {
		return domain.Ballot{}, fmt.Errorf("decode ballot: %w", err)
	}

	var decision bool
	switch strings.ToLower(strings.TrimSpace(r.Decision)) {
	case "yes":
		decision = true
	case "no":
	default:
		return domain.Ballot{}, fmt.Errorf("decision %q is not yes or no", r.Decision)
	}

	known := make(map[string]bool, len(participants))
	for _, a := range participants {
		known[a.ID] = true
	}
	scores := make(map[string]int, len(participants))
	for id, s := range r.Scores {
		if !known[id] {
			continue
		}
		n := int(s + 0.5)
		if n < 0 {
			n = 0
		}
		if n > v.scoreMax {
			n = v.scoreMax
		}
		scores[id] = n
	}
	if len(scores) == 0 {
		return domain.Ballot{}, fmt.Errorf("ballot scores no known participant")
	}
	return domain.Ballot{Scores: scores, Decision: decision, Reasoning: r.Reasoning}, nil
}

// Aggregate totals the ballots. The winner has the highest total, ties going
// to the earliest participant in turn order. The decision is "yes" only when
// yes votes are a strict majority of the ballots.
func Aggregate(participants []domain.Agent, ballots []domain.Ballot, rounds int) (*domain.MoEVoteResult, error) {
	if len(ballots) == 0 {
		return nil, domain.NewSubSystemError("job", "job.Aggregate", domain.ErrNoBallots, "")
	}

	res := &domain.MoEVoteResult{RoundsCompleted: rounds, Ballots: ballots}
	for _, b := range ballots {
		if b.Decision {
			res.YesVotes++
		} else {
			res.NoVotes++
		}
	}
	res.Decision = "no"
	if res.YesVotes*2 > len(ballots) {
		res.Decision = "yes"
	}

	best := -1
	for _, a := range participants {
		var total, counted int
		for _, b := range ballots {
			if s, ok := b.Scores[a.ID]; ok {
				total += s
				counted++
			}
		}
		ps := domain.ParticipantScore{AgentID: a.ID, AgentName: a.Name, Total: total}
		if counted > 0 {
			ps.Average = float64(total) / float64(counted)
		}
		res.Scores = append(res.Scores, ps)
		if total > best {
			best = total
			res.WinnerID, res.WinnerName = a.ID, a.Name
		}
	}
	return res, nil
}
