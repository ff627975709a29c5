package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Decision is one audit line: a skipped rule or one attempted order.
type Decision struct {
	RunID      string            `json:"run_id"`
	Timestamp  time.Time         `json:"timestamp"`
	PostID     string            `json:"post_id"`
	Author     string            `json:"author"`
	RuleIndex  int               `json:"rule_index"`
	Rule       string            `json:"rule"`
	OrderIndex *int              `json:"order_index,omitempty"`
	Result     string            `json:"result"`
	Kind       string            `json:"kind,omitempty"`
	Error      string            `json:"error,omitempty"`
	OrderID    string            `json:"order_id,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

type DecisionLogger struct {
	runID  string
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
}

func NewDecisionLogger(path string, runID string) (*DecisionLogger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &DecisionLogger{
		runID:  runID,
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

// Record appends the decisions for one rule result.
func (d *DecisionLogger) Record(author string, res RuleResult) {
	for _, decision := range decisionsFor(d.runID, author, res, time.Now().UTC()) {
		d.Append(decision)
	}
}

func (d *DecisionLogger) Append(decision Decision) {
	d.mu.Lock()
	defer d.mu.Unlock()
	payload, err := json.Marshal(decision)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal decision: %v\n", err)
		return
	}
	if _, err := d.writer.Write(append(payload, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write decision: %v\n", err)
		return
	}
	if err := d.writer.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to flush decision log: %v\n", err)
	}
}

func (d *DecisionLogger) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writer.Flush(); err != nil {
		_ = d.file.Close()
		return err
	}
	return d.file.Close()
}

func decisionsFor(runID, author string, res RuleResult, now time.Time) []Decision {
	base := Decision{
		RunID:     runID,
		Timestamp: now,
		PostID:    res.PostID,
		Author:    author,
		RuleIndex: res.RuleIndex,
		Rule:      res.Rule,
	}
	if res.State == RuleSkipped {
		base.Result = res.Reason
		base.Kind = res.Kind
		if res.Err != nil {
			base.Error = res.Err.Error()
		}
		return []Decision{base}
	}

	out := make([]Decision, 0, len(res.Orders))
	for _, o := range res.Orders {
		decision := base
		index := o.Index
		decision.OrderIndex = &index
		decision.Fields = o.Fields
		if o.Success {
			decision.Result = "order_submitted"
			decision.OrderID = o.OrderID
		} else {
			decision.Result = "order_failed"
			decision.Kind = o.Kind
			decision.Error = o.Err.Error()
		}
		out = append(out, decision)
	}
	return out
}
