package model

// DeliveryJob 投递管线的一跳: 一封信对一个收件人。自带展示字段,
// worker 不用回查发件人就能生成通知文案。
type DeliveryJob struct {
	JobID         string `json:"job_id"`
	EmailID       int64  `json:"email_id,string"`
	Sender        string `json:"sender"`
	SenderAddr    string `json:"sender_addr"`
	RecipientID   string `json:"recipient_id"`
	Field         string `json:"field"`
	Subject       string `json:"subject"`
	IsAutoReplied bool   `json:"is_auto_replied"`
}
