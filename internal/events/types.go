package events

// Topic enumerates high-level streams inside the decision core.
type Topic string

const (
	TopicBar           Topic = "market.bar"
	TopicDecision      Topic = "decision.made"
	TopicOrderIntent   Topic = "order.intent"
	TopicOrderRejected Topic = "order.rejected"
	TopicFill          Topic = "order.fill"
	TopicRiskAlert     Topic = "risk.alert"
	TopicPolicySwap    Topic = "policy.swap"
	TopicRetrainFailed Topic = "policy.retrain_failed"
)
