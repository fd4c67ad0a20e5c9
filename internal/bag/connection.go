package bag

// ConnectionInfo describes one logical channel a bag has recorded
// messages on. connection_id is dense and unique within one file,
// assigned as len(connections) at creation time.
type ConnectionInfo struct {
	ID                uint32
	Topic             string
	Datatype          string
	MD5Sum            string
	MessageDefinition string
	// Header is the full connection header, including the injected
	// "topic" key, as it is written to and read from disk. It is
	// immutable after creation.
	Header map[string]string
}

// MessageDescriptor is supplied by the caller for messages that arrive
// with no explicit connection_header; the engine synthesizes a
// ConnectionInfo.Header from it on first use.
type MessageDescriptor struct {
	Type              string
	MD5Sum            string
	MessageDefinition string
}

// connectionKey returns the key used to resolve or create a connection
// for a write: the topic alone when no explicit header was supplied, or
// the full header with topic forcibly inserted otherwise.
func connectionKey(topic string, connHeader map[string]string) (key string, fullHeader map[string]string) {
	if connHeader == nil {
		return "topic\x00" + topic, nil
	}

	full := make(map[string]string, len(connHeader)+1)
	for k, v := range connHeader {
		full[k] = v
	}
	full["topic"] = topic

	return "hdr\x00" + canonicalHeaderKey(full), full
}

func descriptorHeader(topic string, d MessageDescriptor) map[string]string {
	return map[string]string{
		"topic":              topic,
		"type":               d.Type,
		"md5sum":             d.MD5Sum,
		"message_definition": d.MessageDefinition,
	}
}

func newConnectionInfo(id uint32, topic string, header map[string]string) *ConnectionInfo {
	return &ConnectionInfo{
		ID:                id,
		Topic:             topic,
		Datatype:          header["type"],
		MD5Sum:            header["md5sum"],
		MessageDefinition: header["message_definition"],
		Header:            header,
	}
}
