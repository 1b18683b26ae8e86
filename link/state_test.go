package link

import "testing"

func TestClassifyResetLink(t *testing.T) {
	h := Header{Control: NewControl(true, false, false, FuncResetLinkStates)}
	if k := Classify(h); k != KindResetLinkStates {
		t.Errorf("kind = %s, want reset-link-states", k)
	}
}

func TestClassifyConfirmedUserData(t *testing.T) {
	h := Header{Control: NewControl(true, true, true, FuncConfirmedUserData)}
	if k := Classify(h); k != KindUserDataConfirmed {
		t.Errorf("kind = %s, want user-data(confirmed)", k)
	}
}

func TestClassifySecondaryAck(t *testing.T) {
	h := Header{Control: NewSecondaryControl(false, false, FuncAck)}
	if k := Classify(h); k != KindAck {
		t.Errorf("kind = %s, want ack", k)
	}
}

func TestStateUserDataForwardsFrameInfo(t *testing.T) {
	s := NewState("")
	h := Header{
		Control:     NewControl(true, false, false, FuncUnconfirmedUserData),
		Destination: 1,
		Source:      1024,
	}
	info, confirmed, ok := s.UserData(h)
	if !ok {
		t.Fatal("expected user-data frame to forward")
	}
	if confirmed {
		t.Error("unconfirmed frame reported as confirmed")
	}
	if info.Source != 1024 || info.Destination != 1 {
		t.Errorf("info = %+v", info)
	}
}

func TestValidateSourceRejectsBroadcast(t *testing.T) {
	h := Header{Source: BroadcastMandatory}
	if err := ValidateSource(h); err == nil {
		t.Fatal("expected ErrBroadcastSource")
	}
}

func TestNewEndpointAddressRejectsReserved(t *testing.T) {
	if _, err := NewEndpointAddress(0xFFF0); err == nil {
		t.Fatal("expected ReservedAddress error")
	}
	if _, err := NewEndpointAddress(1024); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
