package memd

import "context"

// Authenticate performs a SASL PLAIN exchange on c.
func Authenticate(ctx context.Context, c *Conn, username, password string) error {
	payload := make([]byte, 0, len(username)+len(password)+2)
	payload = append(payload, 0)
	payload = append(payload, username...)
	payload = append(payload, 0)
	payload = append(payload, password...)

	resp, err := c.Exchange(ctx, NewSASLAuth("PLAIN", payload), nil)
	if err != nil {
		return err
	}
	if resp.Status != StatusSuccess {
		return &StatusError{OpCode: OpSASLAuth, Status: resp.Status, Message: string(resp.Value)}
	}
	return nil
}

// SelectBucket binds c to bucket for all later key operations.
func SelectBucket(ctx context.Context, c *Conn, bucket string) error {
	resp, err := c.Exchange(ctx, NewSelectBucket(bucket), nil)
	if err != nil {
		return err
	}
	if resp.Status != StatusSuccess {
		return &StatusError{OpCode: OpSelectBucket, Status: resp.Status, Message: string(resp.Value)}
	}
	return nil
}
