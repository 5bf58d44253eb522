package mb

import "testing"

func TestValidateCommandEnvelopeReplyRequired(t *testing.T) {
	cmd, err := NewCommand(CmdGetAddons, struct{}{})
	if err != nil {
		t.Fatalf("new command: %v", err)
	}
	cmd.ID = "id"
	cmd.TS = 1
	cmd.From = "tester"
	if err := ValidateCommandEnvelope(cmd); err == nil {
		t.Fatalf("expected replyTo error")
	}

	cmd.ReplyTo = TopicReply(BaseTopic, "tester")
	if err := ValidateCommandEnvelope(cmd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateCommandEnvelopeDispatchFireAndForget(t *testing.T) {
	cmd, err := NewCommand(CmdDispatchAction, DispatchActionBody{Action: "Player.TimeChanged", Payload: "{}"})
	if err != nil {
		t.Fatalf("new command: %v", err)
	}
	cmd.ID = "id"
	cmd.TS = 1
	cmd.From = "player"
	if err := ValidateCommandEnvelope(cmd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateCommandEnvelopeMissingFields(t *testing.T) {
	cmd := CommandEnvelope{}
	if err := ValidateCommandEnvelope(cmd); err == nil {
		t.Fatalf("expected error")
	}
}

func TestTopics(t *testing.T) {
	if got := TopicCommands(BaseTopic, "mb:bridge:main"); got != "mb/v1/node/mb:bridge:main/cmd" {
		t.Fatalf("unexpected command topic %s", got)
	}
	if got := TopicReply(BaseTopic, "cli"); got != "mb/v1/reply/cli" {
		t.Fatalf("unexpected reply topic %s", got)
	}
}
