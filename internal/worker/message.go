package worker

// Job はワーカーが実行するジョブを表す
type Job func()

type messageKind int

const (
	messageNewJob messageKind = iota
	messageTerminate
)

// message はキューを流れる値。ジョブか終了シグナルのどちらか
type message struct {
	kind messageKind
	job  Job
}

func newJobMessage(job Job) message {
	return message{kind: messageNewJob, job: job}
}

func terminateMessage() message {
	return message{kind: messageTerminate}
}

func (m message) String() string {
	switch m.kind {
	case messageNewJob:
		return "NewJob"
	case messageTerminate:
		return "Terminate"
	default:
		return "Unknown"
	}
}
