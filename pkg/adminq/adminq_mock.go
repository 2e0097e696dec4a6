package adminq

type SendRequest struct {
	Opcode  Opcode
	Payload []byte
}

type ChannelMock struct {
	SendRequests []SendRequest
	Responses    [][]byte
	SendErrors   []error
}

// Send pops the next queued response and error. Once the queues are empty it
// answers with an empty response and no error.
func (cm *ChannelMock) Send(opcode Opcode, payload []byte) ([]byte, error) {
	cm.SendRequests = append(cm.SendRequests, SendRequest{Opcode: opcode, Payload: payload})

	var (
		resp []byte
		err  error
	)
	if len(cm.Responses) > 0 {
		resp, cm.Responses = cm.Responses[0], cm.Responses[1:]
	}
	if len(cm.SendErrors) > 0 {
		err, cm.SendErrors = cm.SendErrors[0], cm.SendErrors[1:]
	}
	return resp, err
}
