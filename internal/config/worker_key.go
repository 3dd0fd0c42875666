package config

type WorkerKeyStruct struct {
	PersistEventsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistEventsQueue: "persist_monitoring_events_queue",
}
