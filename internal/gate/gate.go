package gate

import (
	"fmt"
	"time"

	"birdtrade/internal/social"

	"go.uber.org/zap"
)

// Rejection reasons.
const (
	ReasonExpired = "post_expired"
	ReasonFuture  = "post_from_future"
	ReasonRetweet = "retweet"
	ReasonReply   = "reply"
)

// GateContext carries the per-rule limits a post is checked against.
type GateContext struct {
	Now          time.Time
	PostTTL      time.Duration
	AllowReplies bool
	// ClockSkew tolerates posts stamped slightly ahead of Now.
	ClockSkew time.Duration
}

type Approved struct {
	Post   social.Post
	Reason string
}

// RejectedError names why a post may not trigger a rule.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return e.Reason
}

type Gate struct {
	Log *zap.SugaredLogger
}

func (g Gate) Evaluate(post social.Post, ctx GateContext) (Approved, error) {
	log := g.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	if post.Retweet {
		log.Debugw("gate rejected", "post_id", post.ID, "reason", ReasonRetweet)
		return Approved{}, &RejectedError{Reason: ReasonRetweet}
	}
	if post.IsReply() && !ctx.AllowReplies {
		log.Debugw("gate rejected", "post_id", post.ID, "reason", ReasonReply, "in_reply_to", post.ReplyTo)
		return Approved{}, &RejectedError{Reason: ReasonReply}
	}
	// Posts without a timestamp have no known age.
	if !post.CreatedAt.IsZero() {
		age := ctx.Now.Sub(post.CreatedAt)
		if ctx.PostTTL > 0 && age > ctx.PostTTL {
			log.Infow("gate rejected", "post_id", post.ID, "reason", ReasonExpired, "age", age, "ttl", ctx.PostTTL)
			return Approved{}, &RejectedError{Reason: ReasonExpired}
		}
		skew := ctx.ClockSkew
		if skew <= 0 {
			skew = time.Minute
		}
		if -age > skew {
			log.Infow("gate rejected", "post_id", post.ID, "reason", ReasonFuture, "ahead", -age)
			return Approved{}, &RejectedError{Reason: ReasonFuture}
		}
	}

	return Approved{Post: post, Reason: fmt.Sprintf("approved author=%s", post.Author)}, nil
}
