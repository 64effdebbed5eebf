package tasks

type Type string

const (
	TypeApplicationNotify Type = "application.notify"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeApplicationNotify:
		return true
	default:
		return false
	}
}
