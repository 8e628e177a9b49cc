package tibber

// usageQuery fetches hourly consumption for the current month (with
// slack) plus today's spot prices for one home. HOURS_TO_GET is
// substituted before sending.
const usageQuery = `{
  viewer {
    home(id: "HOME_ID") {
      id
      consumption(resolution: HOURLY, last: HOURS_TO_GET) {
        nodes {
          from
          to
          unitPrice
          unitPriceVAT
          consumption
        }
      }
      currentSubscription {
        status
        priceInfo {
          today {
            total
            energy
            tax
            startsAt
          }
        }
      }
    }
  }
}`

// liveMeasurementQuery is the realtime telemetry subscription.
const liveMeasurementQuery = `subscription {
  liveMeasurement(homeId: "HOME_ID") {
    timestamp
    power
    accumulatedConsumption
    accumulatedProduction
    accumulatedCost
    accumulatedReward
    minPower
    averagePower
    maxPower
    powerProduction
    minPowerProduction
    maxPowerProduction
  }
}`
