package enums

import "testing"

func TestParseSubscriptionStatus(t *testing.T) {
	got, err := ParseSubscriptionStatus("PENDIENTE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != SubscriptionStatusPendiente {
		t.Fatalf("expected PENDIENTE, got %s", got)
	}
	if _, err := ParseSubscriptionStatus("pendiente"); err == nil {
		t.Fatal("expected lowercase status to be rejected")
	}
}

func TestPaymentMethodRequiresProof(t *testing.T) {
	cases := map[PaymentMethod]bool{
		PaymentMethodEfectivo:      false,
		PaymentMethodQR:            true,
		PaymentMethodTransferencia: true,
	}
	for method, want := range cases {
		if got := method.RequiresProof(); got != want {
			t.Fatalf("%s: expected %t, got %t", method, want, got)
		}
	}
}

func TestMemberRoleCanManageBilling(t *testing.T) {
	if !MemberRoleOwner.CanManageBilling() || !MemberRoleManager.CanManageBilling() {
		t.Fatal("owner and manager should manage billing")
	}
	if MemberRoleCashier.CanManageBilling() || MemberRolePlatformAdmin.CanManageBilling() {
		t.Fatal("cashier and platform admin should not manage tenant billing")
	}
}

func TestParseBillingCycle(t *testing.T) {
	if _, err := ParseBillingCycle("SEMANAL"); err == nil {
		t.Fatal("expected unknown cycle to fail")
	}
	if cycle, err := ParseBillingCycle("ANUAL"); err != nil || cycle != BillingCycleAnual {
		t.Fatalf("expected ANUAL, got %s (%v)", cycle, err)
	}
}
