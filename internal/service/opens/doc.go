// Package opens turns pixel fetches into recorded opens and decides which
// engagement notifications they trigger.
//
// Three parts live here:
//   - the recorder, which stores one OpenEvent per qualifying fetch and
//     suppresses the sender's own pre-send image load;
//   - the trigger engine, which evaluates the first-open, hot and revived
//     latches against a freshly recorded event;
//   - one follow-up sweep cycle, which reminds the sender about messages that
//     were never really opened. The loop that schedules it lives in worker/.
//
// Every latch is committed through Repository.SetLatch, a conditional write
// that succeeds for exactly one caller. Inline triggers commit before they
// notify, so a failed delivery is never retried. The follow-up trigger commits
// only after a confirmed delivery, so a failed reminder is retried next cycle.
package opens
