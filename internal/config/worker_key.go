package config

type WorkerKeyStruct struct {
	// SettlePaymentsQueue is the Redis list fed by the payment webhook and
	// drained by the settlement worker.
	SettlePaymentsQueue string
}

func NewWorkerKeyStruct() *WorkerKeyStruct {
	return &WorkerKeyStruct{
		SettlePaymentsQueue: "settle_payments_queue",
	}
}

var WorkerKey = NewWorkerKeyStruct()
