package pool

// Connector executa operações assíncronas de conexão em nome do pool.
// O pool emite a operação com o handle que cunhou e segue adiante; a
// conclusão reentra no dispatcher como CmdCompleted ou CmdFailed com o
// mesmo handle. Conclusões para handles que o pool não aguarda mais são
// descartadas em silêncio.
//
// Reconnect é uma dica de que o pool acredita que revincular a conexão
// para outro database é mais barato que disconnect+connect; implementações
// podem tratá-lo como tal ou fazer o ciclo completo.
//
// O pool trata qualquer falha do connector como terminal para a conexão
// afetada.
type Connector interface {
	Connect(handle ConnHandle, db string)
	Disconnect(handle ConnHandle)
	Reconnect(handle ConnHandle, db string)
}

// EventSink recebe os eventos que o pool emite para o host. Implementado
// pelo host bridge; chamado apenas de dentro do loop do driver.
type EventSink interface {
	// Acquired entrega a conexão ao acquire identificado por requestID.
	Acquired(requestID uint64, handle ConnHandle)
	// Pruned confirma que o drain solicitado por requestID terminou.
	Pruned(requestID uint64)
	// Failed reporta a falha de um acquire ou um erro interno.
	Failed(requestID uint64, handle ConnHandle, err *Error)
	// Metrics entrega um snapshot serializado de métricas.
	Metrics(blob []byte)
}
