package game

// Message types of the session protocol.
const (
	TypeInitialization = "initialization"
	TypeChat           = "chat"
	TypeAnswer         = "answer"
	TypeResult         = "result"
	TypeError          = "error"
)

const (
	GameTwoTruthsALie = "two_truth_a_lie"
	// legacy spelling still sent by older clients
	gameTwoTruthsALieLegacy = "tow_truth_a_lie"
)

const SenderBot = "bot"

const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

// Verification modes reported with a result.
const (
	VerifiedLedger = "ledger"
	VerifiedLocal  = "local"
)

// Error codes carried in error envelopes.
const (
	CodeProtocol         = "protocol_error"
	CodeEncoding         = "encoding_error"
	CodeGenerator        = "generator_error"
	CodeBadJSON          = "bad_json"
	CodeUnsupportedGame  = "unsupported_game"
	CodeSessionCancelled = "session_cancelled"
)

// Envelope is the JSON record exchanged over the game socket.
type Envelope struct {
	MessageType string `json:"message_type"`
	Message     string `json:"message,omitempty"`
	GameType    string `json:"game_type,omitempty"`
	Sender      string `json:"sender"`
	Result      string `json:"result,omitempty"`

	SessionID    string `json:"session_id,omitempty"`
	Code         string `json:"code,omitempty"`
	Verification string `json:"verification,omitempty"`
	Commitment   string `json:"commitment,omitempty"`
}

func errorEnvelope(code, message string) Envelope {
	return Envelope{MessageType: TypeError, Message: message, Sender: SenderBot, Code: code}
}
