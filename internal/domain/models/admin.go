package models

// Admin commands.
const (
	CmdAdd    = "ADD"
	CmdUpdate = "UPDATE"
	CmdRemove = "REMOVE"
)

// Admin response statuses.
const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// AdminRequest is a registry mutation command.
type AdminRequest struct {
	Cmd   string   `json:"cmd" validate:"required,oneof=ADD UPDATE REMOVE"`
	ID    string   `json:"id" validate:"required"`
	Mu    *float64 `json:"mu" validate:"required_unless=Cmd REMOVE"`
	Sigma *float64 `json:"sigma" validate:"required_unless=Cmd REMOVE"`
}

// AdminResponse is the single reply to an AdminRequest.
type AdminResponse struct {
	Status string `json:"status"`
	Msg    string `json:"msg"`
}

func OK(msg string) AdminResponse { return AdminResponse{Status: StatusOK, Msg: msg} }

func Fail(msg string) AdminResponse { return AdminResponse{Status: StatusError, Msg: msg} }
