package scenario

// Example is a small scenario exercising an applied act, a blocked act and an
// intermediate quantity. `oe scenario example` prints it.
const Example = `name: care-cooperative
description: A cooperative balancing profit against care work.

model:
  parameters:
    - id: revenue
      label: Revenue
      unit: credits
    - id: cost
      label: Cost
      unit: credits
    - id: profit
      label: Profit
      unit: credits
    - id: care_hours
      label: Care Hours
      unit: hours
  rules:
    - id: compute_profit
      label: Compute Profit
      formula: |
        profit = revenue - cost
        margin_intermediate = profit / revenue
      parameters: [profit, revenue, cost]
    - id: spend
      label: Spend
      formula: cost = cost + act.amount
      parameters: [cost]
    - id: invest_care
      label: Invest in Care
      script: |
        local hours = act.hours or 0
        return { care_hours = care_hours + hours, cost = cost + hours * act.rate }
      parameters: [care_hours, cost]
  constraints:
    - id: budget_guard
      label: Budget Guard
      formula: revenue >= cost + (act.amount or 0)
      parameters: [revenue, cost]
      reason: "{constraint} keeps spending within revenue"
    - id: care_floor
      label: Care Floor
      formula: care_hours >= 10
      parameters: [care_hours]
  metrics:
    - id: growth
      label: Growth
    - id: equity
      label: Equity
  tradeoffs:
    - id: growth_vs_equity
      metrics: [growth, equity]

initial_state:
  revenue: 10
  cost: 4
  care_hours: 6

acts:
  - id: act-1
    type: update
    description: Compute updated profit.
    rule: compute_profit
    constraints: [budget_guard]
  - id: act-2
    type: invest
    description: Fund extra care shifts.
    payload:
      hours: 5
      rate: 0.5
    rule: invest_care
    constraints: [budget_guard]
  - id: act-3
    type: spend
    description: Buy new equipment.
    payload:
      amount: 20
    rule: spend
    constraints: [budget_guard, care_floor]
  - id: act-4
    type: update
    description: Recompute profit.
    rule: compute_profit
    constraints: [care_floor]
`
