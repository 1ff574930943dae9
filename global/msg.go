package global

import "GotMail/tools/errs"

type Msg struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

func Sucess(data any) *Msg {
	return &Msg{
		Code: 200,
		Msg:  "",
		Data: data,
	}
}

// Fail 将业务错误折叠成统一响应, 非 CodeError 一律按内部错误处理
func Fail(err error) *Msg {
	if ce, ok := errs.AsCodeError(err); ok {
		return &Msg{Code: ce.ECode(), Msg: ce.EMsg()}
	}
	return &Msg{Code: errs.ErrInternal.ECode(), Msg: errs.ErrInternal.EMsg()}
}
