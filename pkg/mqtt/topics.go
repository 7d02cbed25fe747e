package mqtt

import "fmt"

// TopicBuilder derives the per-client topics under a domain channel.
type TopicBuilder struct {
	domainID  string
	channelID string
}

func NewTopicBuilder(domainID, channelID string) *TopicBuilder {
	return &TopicBuilder{
		domainID:  domainID,
		channelID: channelID,
	}
}

func (tb *TopicBuilder) BaseTopic() string {
	return fmt.Sprintf("m/%s/c/%s", tb.domainID, tb.channelID)
}

func (tb *TopicBuilder) ClientTopic(cid string) string {
	return tb.BaseTopic() + "/fl/clients/" + cid
}

func (tb *TopicBuilder) InstructionsTopic(cid string) string {
	return tb.ClientTopic(cid) + "/instructions"
}

func (tb *TopicBuilder) RepliesTopic(cid string) string {
	return tb.ClientTopic(cid) + "/replies"
}

func (tb *TopicBuilder) AliveTopic(cid string) string {
	return tb.ClientTopic(cid) + "/alive"
}

func (tb *TopicBuilder) CreateTopic(cid string) string {
	return tb.ClientTopic(cid) + "/create"
}

func (tb *TopicBuilder) AllTopics() string {
	return tb.BaseTopic() + "/#"
}
