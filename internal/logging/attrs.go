package logging

import "log/slog"

func SessionID(id string) slog.Attr {
	return slog.String("session_id", id)
}

func TemplateID(id string) slog.Attr {
	return slog.String("template_id", id)
}

func StepOrder(order int) slog.Attr {
	return slog.Int("step_order", order)
}

func Round(round int) slog.Attr {
	return slog.Int("round", round)
}

func Status[T ~string](status T) slog.Attr {
	return slog.String("status", string(status))
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("err", msg)
}
